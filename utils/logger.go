package utils

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger handles the application logs
type Logger struct {
	appLog     *log.Logger
	accessLog  *log.Logger
	appFile    *os.File
	accessFile *os.File
	mu         sync.Mutex
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// InitLogger initializes the logging system
func InitLogger(logPath, accessLogPath string) error {
	var initErr error

	loggerOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
		if err := os.MkdirAll(filepath.Dir(accessLogPath), 0755); err != nil {
			initErr = fmt.Errorf("failed to create access log directory: %w", err)
			return
		}

		appFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			initErr = fmt.Errorf("failed to open log file: %w", err)
			return
		}

		accessFile, err := os.OpenFile(accessLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			appFile.Close()
			initErr = fmt.Errorf("failed to open access log file: %w", err)
			return
		}

		globalLogger = &Logger{
			appLog:     log.New(appFile, "", log.LstdFlags),
			accessLog:  log.New(accessFile, "", log.LstdFlags),
			appFile:    appFile,
			accessFile: accessFile,
		}
	})

	return initErr
}

// GetLogger returns the logger instance
func GetLogger() *Logger {
	return globalLogger
}

// LogInfo records an informational message
func (l *Logger) LogInfo(format string, v ...interface{}) {
	if l == nil || l.appLog == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf("[INFO] "+format, v...)
	l.appLog.Println(msg)
	// Mirror to stdout for systemd
	fmt.Printf("[INFO] %s: %s\n", time.Now().Format("2006-01-02 15:04:05"), msg)
}

// LogError records an error
func (l *Logger) LogError(format string, v ...interface{}) {
	if l == nil || l.appLog == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf("[ERROR] "+format, v...)
	l.appLog.Println(msg)
	fmt.Printf("[ERROR] %s: %s\n", time.Now().Format("2006-01-02 15:04:05"), msg)
}

// LogAccess records an HTTP access
func (l *Logger) LogAccess(remoteAddr, method, uri string, statusCode int) {
	if l == nil || l.accessLog == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf("%s - %s %s - %d", remoteAddr, method, uri, statusCode)
	l.accessLog.Println(msg)
}

// Close closes the log files
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	if l.appFile != nil {
		if e := l.appFile.Close(); e != nil {
			err = e
		}
	}
	if l.accessFile != nil {
		if e := l.accessFile.Close(); e != nil {
			err = e
		}
	}
	return err
}
