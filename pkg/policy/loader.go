package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// loadFromDir reads every .rego file in dir (non-recursive) into a
// Policy. The file name, minus extension, becomes the policy name;
// operator-loaded policies default to error severity and enabled.
func loadFromDir(dir string) ([]Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir %s: %w", dir, err)
	}

	var policies []Policy
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read policy file %s: %w", entry.Name(), err)
		}
		policies = append(policies, Policy{
			Name:        strings.TrimSuffix(entry.Name(), ".rego"),
			Description: "operator policy " + entry.Name(),
			Rego:        string(src),
			Severity:    SeverityError,
			Enabled:     true,
			Tags:        []string{"operator"},
		})
	}
	return policies, nil
}
