package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"testing"
)

var (
	migrationName = regexp.MustCompile(`^(\d{4})_[a-z_]+\.(up|down)\.sql$`)
	createTable   = regexp.MustCompile(`(?i)CREATE TABLE IF NOT EXISTS (\w+)`)
	dropTable     = regexp.MustCompile(`(?i)DROP TABLE IF EXISTS (\w+)`)
)

func migrationsPath() string {
	return filepath.Join("..", "..", "db", "migrations")
}

// migrationPairs indexes migration files by version and direction.
func migrationPairs(t *testing.T) map[int]map[string]string {
	t.Helper()
	entries, err := os.ReadDir(migrationsPath())
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	pairs := map[int]map[string]string{}
	for _, entry := range entries {
		match := migrationName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			t.Fatalf("unexpected entry %q in migrations dir", entry.Name())
		}
		version, _ := strconv.Atoi(match[1])
		if pairs[version] == nil {
			pairs[version] = map[string]string{}
		}
		pairs[version][match[2]] = filepath.Join(migrationsPath(), entry.Name())
	}
	return pairs
}

func TestMigrationVersionsAreContiguousPairs(t *testing.T) {
	pairs := migrationPairs(t)
	if len(pairs) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version := 1; version <= len(pairs); version++ {
		files, ok := pairs[version]
		if !ok {
			t.Fatalf("missing migration version %04d", version)
		}
		if files["up"] == "" || files["down"] == "" {
			t.Fatalf("version %04d needs both up and down files, got %v", version, files)
		}
	}
}

func TestDownMigrationsDropEveryCreatedTable(t *testing.T) {
	for version, files := range migrationPairs(t) {
		t.Run(fmt.Sprintf("%04d", version), func(t *testing.T) {
			created := tableNames(t, createTable, files["up"])
			dropped := tableNames(t, dropTable, files["down"])
			if len(created) == 0 {
				t.Fatalf("%s creates no table", files["up"])
			}
			for _, table := range created {
				if !slices.Contains(dropped, table) {
					t.Fatalf("%s does not drop %s", files["down"], table)
				}
			}
			// Dependent tables go first.
			slices.Reverse(created)
			if !slices.Equal(created, dropped) {
				t.Fatalf("expected drop order %v, got %v", created, dropped)
			}
		})
	}
}

func TestMembershipTablesEnforceSingleGroup(t *testing.T) {
	files := migrationPairs(t)[2]
	raw, err := os.ReadFile(files["up"])
	if err != nil {
		t.Fatalf("read %s: %v", files["up"], err)
	}
	sql := string(raw)
	for _, fragment := range []string{
		"user_id TEXT NOT NULL UNIQUE REFERENCES users(id)",
		"CHECK (state IN ('ASSIGNED', 'EDITED'))",
		"CREATE TABLE IF NOT EXISTS group_played_participants",
	} {
		if !regexp.MustCompile(regexp.QuoteMeta(fragment)).MatchString(sql) {
			t.Fatalf("%s is missing %q", files["up"], fragment)
		}
	}
}

func tableNames(t *testing.T, pattern *regexp.Regexp, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var names []string
	for _, match := range pattern.FindAllStringSubmatch(string(raw), -1) {
		names = append(names, match[1])
	}
	return names
}
