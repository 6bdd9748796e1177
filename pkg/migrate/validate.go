package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// Validate checks every .sql file in files: the YYYYMMDDHHMMSS_name.sql
// naming, unique versions, both goose directions, and balanced
// StatementBegin/StatementEnd blocks.
func Validate(files fs.FS) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(names) == 0 {
		return fmt.Errorf("no migrations found")
	}
	sort.Strings(names)

	seen := map[string]string{}
	for _, name := range names {
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		b, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := validateBody(string(b)); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

func validateBody(txt string) error {
	up := strings.Index(txt, "-- +goose Up")
	down := strings.Index(txt, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf(`missing "-- +goose Up"`)
	case down < 0:
		return fmt.Errorf(`missing "-- +goose Down"`)
	case down < up:
		return fmt.Errorf(`"-- +goose Down" precedes "-- +goose Up"`)
	}
	depth := 0
	for _, line := range strings.Split(txt, "\n") {
		switch strings.TrimSpace(line) {
		case "-- +goose StatementBegin":
			depth++
			if depth > 1 {
				return fmt.Errorf("nested StatementBegin")
			}
		case "-- +goose StatementEnd":
			depth--
			if depth < 0 {
				return fmt.Errorf("StatementEnd without StatementBegin")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unterminated StatementBegin")
	}
	return nil
}

// latestVersion returns the newest version prefix in files, or "" if none.
func latestVersion(files fs.FS) (string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return "", fmt.Errorf("list migrations: %w", err)
	}
	latest := ""
	for _, name := range names {
		if m := sqlFileRe.FindStringSubmatch(name); m != nil && m[1] > latest {
			latest = m[1]
		}
	}
	return latest, nil
}
