package migrator

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// SQL file markers.
const (
	markerUp               = "-- +migrate Up"
	markerDown             = "-- +migrate Down"
	markerNonTransactional = "-- +migrate NonTransactional"
	markerStatement        = "-- +statement"
)

// MigrationSource defines the interface to load migrations.
type MigrationSource interface {
	LoadMigrations() ([]Migration, error)
}

// ParseFilenameFn defines a function to extract migration details from a
// file name. It returns the identity, the direction, and a boolean
// indicating if parsing succeeded.
type ParseFilenameFn func(filename string) (id ID, dir Direction, ok bool)

// defaultParseFilename expects "<ID>.up.sql" / "<ID>.down.sql" or
// "<ID>_up.sql" / "<ID>_down.sql".
func defaultParseFilename(filename string) (ID, Direction, bool) {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	for _, sep := range []string{".", "_"} {
		i := strings.LastIndex(base, sep)
		if i <= 0 {
			continue
		}
		switch Direction(strings.ToLower(base[i+1:])) {
		case Up:
			return ID(base[:i]), Up, true
		case Down:
			return ID(base[:i]), Down, true
		}
	}
	return "", "", false
}

// GoSource serves migrations declared as Go values.
type GoSource []*Migration

// LoadMigrations returns copies of the declared migrations.
func (g GoSource) LoadMigrations() ([]Migration, error) {
	out := make([]Migration, 0, len(g))
	for _, m := range g {
		if m == nil {
			continue
		}
		out = append(out, m.clone())
	}
	return out, nil
}

// FSMigrationSource loads migrations from a directory of an fs.FS, such as
// an embed.FS. SQL files are paired by identity into one RawStatement unit;
// YAML files may declare any number of structured units.
type FSMigrationSource struct {
	FS   fs.FS
	Root string
	// Optional filename parser, defaults to defaultParseFilename.
	FilenameParser ParseFilenameFn
	// Optional allowed SQL extensions, defaults to .sql.
	AllowedExts []string
}

// NewFSMigrationSource returns a source reading root inside fsys.
//
// Parameters:
//   - fsys: The filesystem to read.
//   - root: The directory inside fsys; "" or "." for the top level.
//
// Returns:
//   - *FSMigrationSource: A new FSMigrationSource instance.
func NewFSMigrationSource(fsys fs.FS, root string) *FSMigrationSource {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	return &FSMigrationSource{
		FS:             fsys,
		Root:           root,
		FilenameParser: defaultParseFilename,
		AllowedExts:    []string{".sql"},
	}
}

// WithFilenameParser returns a new FSMigrationSource with the given parser.
//
// Parameters:
//   - parser: The ParseFilenameFn to use.
//
// Returns:
//   - *FSMigrationSource: A new FSMigrationSource instance.
func (f *FSMigrationSource) WithFilenameParser(parser ParseFilenameFn) *FSMigrationSource {
	c := *f
	c.FilenameParser = parser
	return &c
}

// WithAllowedExts returns a new FSMigrationSource with the given allowed SQL
// extensions.
func (f *FSMigrationSource) WithAllowedExts(exts []string) *FSMigrationSource {
	c := *f
	c.AllowedExts = exts
	return &c
}

// LoadMigrations loads and merges migrations from the directory.
//
// Returns:
//   - []Migration: The loaded migrations sorted by identity.
//   - error: An error if reading or parsing fails.
func (f *FSMigrationSource) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(f.FS, f.Root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	parser := f.FilenameParser
	if parser == nil {
		parser = defaultParseFilename
	}
	allowed := f.AllowedExts
	if allowed == nil {
		allowed = []string{".sql"}
	}

	var out []Migration
	pairs := make(map[ID]*sqlPair)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(path.Ext(name))
		isYAML := ext == ".yaml" || ext == ".yml"
		if !isYAML && !slices.Contains(allowed, ext) {
			continue
		}

		content, err := fs.ReadFile(f.FS, path.Join(f.Root, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		if isYAML {
			migs, err := ParseYAML(content)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
			out = append(out, migs...)
			continue
		}

		id, dir, ok := parser(name)
		if !ok {
			continue
		}
		p, exists := pairs[id]
		if !exists {
			p = &sqlPair{}
			pairs[id] = p
		}
		body := string(content)
		switch dir {
		case Up:
			if p.up != nil {
				return nil, &DuplicateIdentityError{ID: id}
			}
			p.up = splitStatements(body)
			p.nonTx = hasMarker(body, markerNonTransactional)
		case Down:
			if p.down != nil {
				return nil, &DuplicateIdentityError{ID: id}
			}
			p.down = splitStatements(body)
		default:
			return nil, fmt.Errorf("invalid direction %q in %s", dir, name)
		}
	}

	for id, p := range pairs {
		out = append(out, p.migration(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DirMigrationSource loads migrations from a directory on disk.
type DirMigrationSource struct {
	*FSMigrationSource
	Dir string
}

// NewDirMigrationSource creates a new DirMigrationSource for the given
// directory. The default parser and allowed extensions are used.
//
// Parameters:
//   - dir: The directory to load migrations from.
//
// Returns:
//   - *DirMigrationSource: A new DirMigrationSource instance.
func NewDirMigrationSource(dir string) *DirMigrationSource {
	return &DirMigrationSource{
		FSMigrationSource: NewFSMigrationSource(os.DirFS(dir), "."),
		Dir:               dir,
	}
}

// FileMigrationSource loads a single SQL file holding "-- +migrate Up" and
// "-- +migrate Down" sections. The identity is taken from the file name.
type FileMigrationSource struct {
	FilePath string
}

// NewFileMigrationSource returns a new FileMigrationSource.
func NewFileMigrationSource(filePath string) *FileMigrationSource {
	return &FileMigrationSource{FilePath: filePath}
}

// LoadMigrations loads the migration from the file.
//
// Returns:
//   - []Migration: A slice containing the loaded migration.
//   - error: An error if loading fails.
func (f *FileMigrationSource) LoadMigrations() ([]Migration, error) {
	content, err := os.ReadFile(f.FilePath)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(f.FilePath)
	id := ID(strings.TrimSuffix(base, filepath.Ext(base)))

	up, down := splitSections(string(content))
	p := sqlPair{
		up:    splitStatements(up),
		down:  splitStatements(down),
		nonTx: hasMarker(string(content), markerNonTransactional),
	}
	return []Migration{p.migration(id)}, nil
}

// VarMigrationSource uses SQL queries defined in variables.
type VarMigrationSource struct {
	ID      ID
	UpSQL   string
	DownSQL string
}

// NewVarMigrationSource creates a new VarMigrationSource.
//
// Parameters:
//   - id: The identity of the migration.
//   - upSQL: The SQL to execute when applying the migration.
//   - downSQL: The SQL to execute when reverting the migration.
//
// Returns:
//   - *VarMigrationSource: A new VarMigrationSource.
func NewVarMigrationSource(id ID, upSQL string, downSQL string) *VarMigrationSource {
	return &VarMigrationSource{ID: id, UpSQL: upSQL, DownSQL: downSQL}
}

// LoadMigrations loads the variable-defined migration.
func (v *VarMigrationSource) LoadMigrations() ([]Migration, error) {
	p := sqlPair{up: splitStatements(v.UpSQL), down: splitStatements(v.DownSQL)}
	return []Migration{p.migration(v.ID)}, nil
}

type sqlPair struct {
	up, down []string
	nonTx    bool
}

func (p sqlPair) migration(id ID) Migration {
	return Migration{
		ID:               id,
		Operations:       []Operation{RawStatement{Up: p.up, Down: p.down}},
		NonTransactional: p.nonTx,
	}
}

// splitSections returns the Up and Down sections of a single-file
// migration. Content without markers is all Up.
func splitSections(content string) (up, down string) {
	upIdx := strings.Index(content, markerUp)
	downIdx := strings.Index(content, markerDown)
	switch {
	case upIdx == -1 && downIdx == -1:
		return content, ""
	case downIdx == -1:
		return content[upIdx+len(markerUp):], ""
	case upIdx == -1:
		return content[:downIdx], content[downIdx+len(markerDown):]
	}
	return content[upIdx+len(markerUp) : downIdx], content[downIdx+len(markerDown):]
}

// splitStatements splits SQL on lines holding only "-- +statement" and drops
// empty statements and marker lines.
func splitStatements(body string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == markerStatement:
			flush()
			continue
		case strings.HasPrefix(trimmed, "-- +migrate"):
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return out
}

func hasMarker(body, marker string) bool {
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == marker {
			return true
		}
	}
	return false
}
