package foundation

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Violation is one constitutional-rule hit.
type Violation struct {
	Rule    string
	File    string
	Line    int
	Message string
}

// ViolationRule is a single registered Article-II check. New rules are
// added by registering another ViolationRule with WithRules/AddRule, never
// by branching inside Verify's control flow.
type ViolationRule interface {
	Name() string
	Check(repoDir string) ([]Violation, error)
}

// DefaultRules returns the scanner's baseline rule set.
func DefaultRules() []ViolationRule {
	return []ViolationRule{
		noPanicOutsideCmdRule{},
		noRawStdoutInLibraryRule{},
	}
}

// walkGoFiles calls fn for every .go source file under root outside vendor/,
// .git/ and _-prefixed directories, skipping _test.go files since test
// helpers are allowed more latitude than production code. Generated files
// are not told apart and are visited like any other.
func walkGoFiles(root string, fn func(path string) error) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "vendor" || info.Name() == ".git" || strings.HasPrefix(info.Name(), "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		return fn(path)
	})
}

func scanLines(path string, check func(lineNo int, line string) *Violation) ([]Violation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var violations []Violation
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if v := check(lineNo, scanner.Text()); v != nil {
			violations = append(violations, *v)
		}
	}
	return violations, scanner.Err()
}

// noPanicOutsideCmdRule forbids panic() in library packages; cmd/ entry
// points may still panic on unrecoverable startup failures.
type noPanicOutsideCmdRule struct{}

func (noPanicOutsideCmdRule) Name() string { return "no-panic-outside-cmd" }

func (r noPanicOutsideCmdRule) Check(repoDir string) ([]Violation, error) {
	var all []Violation
	err := walkGoFiles(repoDir, func(path string) error {
		if strings.Contains(path, string(filepath.Separator)+"cmd"+string(filepath.Separator)) {
			return nil
		}
		// Same self-reference problem as noRawStdoutInLibraryRule: this
		// rule's own source contains the literal "panic(" it searches for.
		if strings.Contains(path, filepath.Join("pkg", "foundation")) {
			return nil
		}
		rel, _ := filepath.Rel(repoDir, path)
		violations, err := scanLines(path, func(lineNo int, line string) *Violation {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "//") {
				return nil
			}
			if strings.Contains(line, "panic(") {
				return &Violation{Rule: r.Name(), File: rel, Line: lineNo, Message: "panic() outside cmd/; return an error instead"}
			}
			return nil
		})
		if err != nil {
			return err
		}
		all = append(all, violations...)
		return nil
	})
	return all, err
}

// noRawStdoutInLibraryRule forbids fmt.Print/Println/Printf in library
// code; everything outside cmd/ must log through the configured slog
// logger so output obeys the operator's chosen format and level.
type noRawStdoutInLibraryRule struct{}

func (noRawStdoutInLibraryRule) Name() string { return "no-raw-stdout-in-library" }

func (r noRawStdoutInLibraryRule) Check(repoDir string) ([]Violation, error) {
	var all []Violation
	err := walkGoFiles(repoDir, func(path string) error {
		if strings.Contains(path, string(filepath.Separator)+"cmd"+string(filepath.Separator)) {
			return nil
		}
		// This rule's own source necessarily contains the literal strings it
		// searches for; scanning it would always flag itself.
		if strings.Contains(path, filepath.Join("pkg", "foundation")) {
			return nil
		}
		rel, _ := filepath.Rel(repoDir, path)
		violations, err := scanLines(path, func(lineNo int, line string) *Violation {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "//") {
				return nil
			}
			for _, fn := range []string{"fmt.Print(", "fmt.Println(", "fmt.Printf("} {
				if strings.Contains(line, fn) {
					return &Violation{Rule: r.Name(), File: rel, Line: lineNo, Message: fmt.Sprintf("%s outside cmd/; use obslog/slog", strings.TrimSuffix(fn, "("))}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		all = append(all, violations...)
		return nil
	})
	return all, err
}
