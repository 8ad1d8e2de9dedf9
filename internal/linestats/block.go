package linestats

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"strings"
)

// blockEnd locates the exclusive end line of the function declared at
// startLine in file, by parsing the source. It also returns the file's
// source lines for table annotation. A file that cannot be read or parsed
// yields (0, nil) and the caller falls back to the sampled span.
func blockEnd(file string, startLine int) (int, []string) {
	src, err := os.ReadFile(file)
	if err != nil {
		return 0, nil
	}
	lines := strings.Split(string(src), "\n")

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, src, 0)
	if err != nil {
		return 0, lines
	}

	end := 0
	ast.Inspect(parsed, func(n ast.Node) bool {
		if end != 0 {
			return false
		}
		switch fn := n.(type) {
		case *ast.FuncDecl:
			if fset.Position(fn.Pos()).Line == startLine {
				end = fset.Position(fn.End()).Line + 1
				return false
			}
		case *ast.FuncLit:
			if fset.Position(fn.Pos()).Line == startLine {
				end = fset.Position(fn.End()).Line + 1
				return false
			}
		}
		return true
	})
	return end, lines
}
