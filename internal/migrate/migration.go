package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strconv"
)

// Descriptor identifies an applied or pending migration.
type Descriptor struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Hash string `json:"hash" yaml:"hash"`
}

// Migration is a descriptor plus the SQL it applies.
type Migration struct {
	Descriptor `yaml:",inline"`
	Content    string `json:"-" yaml:"content"`
}

// New builds a migration from its SQL, hashing the content.
func New(id int64, name, content string) Migration {
	return Migration{
		Descriptor: Descriptor{ID: id, Name: name, Hash: Hash([]byte(content))},
		Content:    content,
	}
}

// Hash returns the lowercase hex SHA-256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Valid reports whether the descriptor could be stored in the ledger.
func (d Descriptor) Valid() bool {
	return d.ID >= 0 && d.Name != "" && d.Hash != ""
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%d <%s>", d.ID, d.Name)
}

var fileName = regexp.MustCompile(`^(\d+)`)

// Discover reads every *.sql file at the root of fsys. The migration id is
// the file name's leading digits; files without them are skipped.
// The result is in directory order; Plan sorts.
func Discover(fsys fs.FS) ([]Migration, error) {
	log := slog.With("component", "migrate")

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migration directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if matched, _ := path.Match("*.sql", name); !matched {
			continue
		}

		m := fileName.FindStringSubmatch(name)
		if m == nil {
			log.Warn("unexpected file name in migration directory, skipping", "name", name)
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			log.Warn("migration id out of range, skipping", "name", name, "error", err)
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			Descriptor: Descriptor{ID: id, Name: name, Hash: Hash(content)},
			Content:    string(content),
		})
	}
	return migrations, nil
}

// sorted returns migrations ordered by id.
func sorted(migrations []Migration) []Migration {
	all := slices.Clone(migrations)
	slices.SortFunc(all, func(a, b Migration) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return all
}
