package migrate

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

var (
	sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	// amounts are NUMERIC(18,2); binary floating point never reaches the schema
	floatColumnRe = regexp.MustCompile(`(?i)\b(float[48]?|real|double\s+precision)\b`)
)

// ValidateDir checks migration filenames, goose markers and column types.
// An empty dir validates the embedded migrations.
func ValidateDir(dir string) error {
	fsys, root := source(dir)
	_, err := validate(fsys, root)
	if err != nil && dir != "" {
		return fmt.Errorf("%s: %w", dir, err)
	}
	return err
}

// validate returns the versions it saw in ascending order.
func validate(fsys fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	seen := map[string]string{}
	var versions []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		version := m[1]
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %s in %q and %q", version, prev, name)
		}
		seen[version] = name
		versions = append(versions, version)

		b, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		txt := string(b)
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(txt, marker) {
				return nil, fmt.Errorf("migration %q missing %q", name, marker)
			}
		}
		if loc := floatColumnRe.FindString(txt); loc != "" {
			return nil, fmt.Errorf("migration %q declares a %s column; use NUMERIC(18,2) for amounts", name, strings.ToUpper(loc))
		}
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("no migrations found")
	}
	return versions, nil
}
