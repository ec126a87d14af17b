package scanner

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func TestParseRequirements(t *testing.T) {
	content := `# production dependencies
requests==2.31.0

flask==2.3.2
  urllib3==1.26.18
# comment between entries
django  ==  4.2.1
`

	declarations, err := ParseRequirements(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, declarations, 4)

	assert.Equal(t, Declaration{Name: "requests", Version: "2.31.0"}, declarations[0])
	assert.Equal(t, Declaration{Name: "flask", Version: "2.3.2"}, declarations[1])
	assert.Equal(t, Declaration{Name: "urllib3", Version: "1.26.18"}, declarations[2])
	assert.Equal(t, Declaration{Name: "django", Version: "4.2.1"}, declarations[3])
}

func TestParseRequirementsUnpinnedLines(t *testing.T) {
	declarations, err := ParseRequirements(strings.NewReader("requests\nflask==2.3.2\n"))
	require.NoError(t, err)
	require.Len(t, declarations, 2)

	assert.Equal(t, "requests", declarations[0].Name)
	assert.Empty(t, declarations[0].Version)
	assert.Equal(t, "2.3.2", declarations[1].Version)
}

func TestParseRequirementsEmptyInput(t *testing.T) {
	declarations, err := ParseRequirements(strings.NewReader("\n# only comments\n\n"))
	require.NoError(t, err)
	assert.Empty(t, declarations)
}

func TestOpenRequirementsPlain(t *testing.T) {
	reader, err := OpenRequirements("requirements.txt", strings.NewReader("requests==2.31.0\n"))
	require.NoError(t, err)

	declarations, err := ParseRequirements(reader)
	require.NoError(t, err)
	require.Len(t, declarations, 1)
	assert.Equal(t, "requests", declarations[0].Name)
}

func TestOpenRequirementsGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte("requests==2.31.0\nflask==2.3.2\n"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	reader, err := OpenRequirements("requirements.txt.gz", &buf)
	require.NoError(t, err)

	declarations, err := ParseRequirements(reader)
	require.NoError(t, err)
	assert.Len(t, declarations, 2)
}

func TestOpenRequirementsXZ(t *testing.T) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write([]byte("urllib3==1.26.18\n"))
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	reader, err := OpenRequirements("requirements.txt.xz", &buf)
	require.NoError(t, err)

	declarations, err := ParseRequirements(reader)
	require.NoError(t, err)
	require.Len(t, declarations, 1)
	assert.Equal(t, "urllib3", declarations[0].Name)
}

func TestOpenRequirementsCorruptGzip(t *testing.T) {
	_, err := OpenRequirements("requirements.txt.gz", strings.NewReader("not gzip data"))
	assert.Error(t, err)
}
