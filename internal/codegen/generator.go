package codegen

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const filePerm = 0644

// Generator scaffolds a new contract kind: the decode file with the event
// structs and parse functions, the handler kind file and the migration
// creating the event-record tables. It writes into an existing repository
// checkout, so the generated files land next to the handwritten kinds.
type Generator struct {
	Kind     string   // handler kind in snake_case, doubles as the file prefix
	Events   []string // event signatures the kind supports
	RepoRoot string   // repository root to write into, defaults to "."
	Force    bool     // overwrite previously generated files
	DryRun   bool     // render without writing
}

// GeneratedFile is one rendered output of a Generate run.
type GeneratedFile struct {
	Path    string
	Content string
}

var (
	kindRe            = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	migrationNumberRe = regexp.MustCompile(`^(\d+)_`)
)

// Validate checks the generator configuration without touching the
// filesystem.
func (g *Generator) Validate() error {
	if g.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if !kindRe.MatchString(g.Kind) {
		return fmt.Errorf("invalid kind %q: must be snake_case starting with a letter", g.Kind)
	}
	if len(g.Events) == 0 {
		return fmt.Errorf("at least one event signature is required")
	}

	return nil
}

// ParseEvents parses and validates the configured event signatures.
func (g *Generator) ParseEvents() ([]*EventSignature, error) {
	seen := make(map[string]struct{}, len(g.Events))
	parsed := make([]*EventSignature, 0, len(g.Events))

	for _, raw := range g.Events {
		sig, err := ParseEventSignature(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[sig.Name]; dup {
			return nil, fmt.Errorf("duplicate event name %s", sig.Name)
		}
		seen[sig.Name] = struct{}{}
		parsed = append(parsed, sig)
	}

	return parsed, nil
}

// Generate renders the three files and, unless DryRun is set, writes them
// into the repository.
func (g *Generator) Generate() ([]GeneratedFile, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	events, err := g.ParseEvents()
	if err != nil {
		return nil, err
	}

	repoRoot := g.RepoRoot
	if repoRoot == "" {
		repoRoot = "."
	}

	modulePath, err := getModulePath(repoRoot)
	if err != nil {
		return nil, err
	}

	decodeDir := filepath.Join(repoRoot, "internal", "decode")
	handlerDir := filepath.Join(repoRoot, "internal", "handler")
	migrationsDir := filepath.Join(repoRoot, "internal", "migrations")
	for _, dir := range []string{decodeDir, handlerDir, migrationsDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%s not found: point --repo at the repository root", dir)
		}
	}

	if err := g.checkCollisions(decodeDir, handlerDir, events); err != nil {
		return nil, err
	}

	model, err := buildKindModel(g.Kind, modulePath, events)
	if err != nil {
		return nil, err
	}

	number, err := nextMigrationNumber(migrationsDir)
	if err != nil {
		return nil, err
	}

	decodeContent, err := RenderDecodeFile(model)
	if err != nil {
		return nil, err
	}
	handlerContent, err := RenderHandlerFile(model)
	if err != nil {
		return nil, err
	}
	migrationContent, err := RenderMigration(model)
	if err != nil {
		return nil, err
	}

	files := []GeneratedFile{
		{Path: filepath.Join(decodeDir, g.Kind+"_events.go"), Content: decodeContent},
		{Path: filepath.Join(handlerDir, g.Kind+".go"), Content: handlerContent},
		{Path: filepath.Join(migrationsDir, fmt.Sprintf("%03d_%s_store_1.sql", number, g.Kind)), Content: migrationContent},
	}

	if g.DryRun {
		return files, nil
	}

	for _, file := range files {
		if err := writeFile(file.Path, file.Content, g.Force); err != nil {
			return nil, err
		}
	}

	return files, nil
}

// checkCollisions guards against generated identifiers clashing with types
// and kinds that already exist in the target packages. The files a previous
// run of the same kind produced are skipped so regeneration stays possible.
func (g *Generator) checkCollisions(decodeDir, handlerDir string, events []*EventSignature) error {
	typeRe := regexp.MustCompile(`(?m)^type (\w+) struct`)
	existing := make(map[string]struct{})

	err := scanGoFiles(decodeDir, g.Kind+"_events.go", func(content string) error {
		for _, match := range typeRe.FindAllStringSubmatch(content, -1) {
			existing[match[1]] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, sig := range events {
		if _, taken := existing[sig.Name]; taken {
			return fmt.Errorf("event %s is already defined in internal/decode", sig.Name)
		}
	}

	registeredRe := regexp.MustCompile(`Kind\w+\s*=\s*"` + regexp.QuoteMeta(g.Kind) + `"`)

	return scanGoFiles(handlerDir, g.Kind+".go", func(content string) error {
		if registeredRe.MatchString(content) {
			return fmt.Errorf("kind %q is already registered in internal/handler", g.Kind)
		}
		return nil
	})
}

func scanGoFiles(dir, skip string, visit func(content string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") || name == skip {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := visit(string(content)); err != nil {
			return err
		}
	}

	return nil
}

// nextMigrationNumber returns one past the highest numeric prefix among the
// existing migration files.
func nextMigrationNumber(migrationsDir string) (int, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return 0, err
	}

	highest := 0
	for _, entry := range entries {
		match := migrationNumberRe.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		number, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if number > highest {
			highest = number
		}
	}

	return highest + 1, nil
}

func writeFile(path, content string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	return os.WriteFile(path, []byte(content), filePerm)
}

// getModulePath reads the module path from the go.mod at the repository
// root. The generated handler file imports the repository's own packages, so
// the path has to match the checkout being written into.
func getModulePath(repoRoot string) (string, error) {
	content, err := os.ReadFile(filepath.Join(repoRoot, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		if path, ok := strings.CutPrefix(strings.TrimSpace(line), "module "); ok {
			return strings.TrimSpace(path), nil
		}
	}

	return "", fmt.Errorf("no module directive in %s", filepath.Join(repoRoot, "go.mod"))
}

// PrintSummary prints the generated files and the manual wiring steps that
// make the new kind reachable.
func (g *Generator) PrintSummary(files []GeneratedFile) {
	fmt.Printf("Generated %d files for kind %q:\n", len(files), g.Kind)
	for _, file := range files {
		fmt.Printf("  %s\n", file.Path)
	}

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Route the new topics in DecodeLog (internal/decode/decoder.go):")
	fmt.Println("       case <Event>Topic: return parse<Event>(log)")
	fmt.Println("  2. Add the payload cases to UnmarshalPayload (internal/decode/events.go).")
	fmt.Println("  3. Embed the new migration in internal/migrations/migrations.go and append it to all().")
	fmt.Printf("  4. Configure a contract with kind %q to start indexing it.\n", g.Kind)
}
