package store

import "github.com/dali-mrabet/vuln-scanner/scanner"

// DescribeDependency resolves a raw (name, version) pair to its
// canonical identity and returns the stored detail view. A malformed
// pair yields *scanner.InvalidIdentityError, an unknown identity
// *NotFoundError.
func (s *Store) DescribeDependency(name, version string) (*DependencyDetail, error) {
	key, err := scanner.Normalize(name, version)
	if err != nil {
		return nil, err
	}
	return s.GetDependencyDetail(key)
}
