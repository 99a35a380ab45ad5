package netlist

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// connLexer tokenizes pin connection lists as exported by the vendor tools:
// "{I0:A1}{I1:A2}{O:O6}" or "I0:A1,I1:A2".
var connLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "Pin", Pattern: `[A-Za-z_][A-Za-z0-9_\[\]./]*|[0-9]+`},
	{Name: "Punct", Pattern: `[{}:,;]`},
})

type connList struct {
	Pairs []*connPair `( "{"? @@ "}"? ( "," | ";" )? )*`
}

type connPair struct {
	Pin    string `@Pin ":"`
	BelPin string `@Pin`
}

var connParser = participle.MustBuild[connList](
	participle.Lexer(connLexer),
	participle.Elide("Whitespace"),
)

var (
	logicalInputRe = regexp.MustCompile(`^I[0-9]+$`)
	belInputRe     = regexp.MustCompile(`^A[0-9]+$`)
)

// ParseConnections parses a pin connection list and returns the logical
// input to BEL input map. Pairs other than I<n> to A<n> (outputs, clocks,
// write enables) are skipped.
func ParseConnections(s string) (map[string]string, error) {
	conns := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return conns, nil
	}
	list, err := connParser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("%w: connections %q: %v", ErrFormat, s, err)
	}
	for _, p := range list.Pairs {
		if logicalInputRe.MatchString(p.Pin) && belInputRe.MatchString(p.BelPin) {
			conns[p.Pin] = p.BelPin
		}
	}
	return conns, nil
}

// locationLexer tokenizes one "Bit" line of a logic location file. The net
// name runs to the end of the line and may hold any character.
var locationLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Net", Pattern: `Net=[^\r\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Hex", Pattern: `0[xX][0-9a-fA-F]+`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "SLR", Pattern: `SLR[0-9]+`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_.]*`},
	{Name: "Punct", Pattern: `[=:]`},
})

type locationLine struct {
	Offset      int              `"Bit" @Int`
	FAR         string           `@Hex`
	FrameOffset int              `@Int`
	SLR         string           `@SLR?`
	Index       *int             `@Int?`
	Block       string           `"Block" "=" @Ident`
	Payload     *locationPayload `@@`
}

type locationPayload struct {
	Latch *latchPayload `  @@`
	Ram   *ramPayload   `| @@`
	Other *otherPayload `| @@`
}

// otherPayload takes the payload of records no cell group uses, such as
// I/O latches with a different field layout.
type otherPayload struct {
	Key  string   `@Ident "="`
	Rest []string `@( Ident | Int | Hex | SLR | Net | "=" | ":" )*`
}

type latchPayload struct {
	Name string `"Latch" "=" @Ident`
	Net  string `@Net`
}

type ramPayload struct {
	Bank  string `"Ram" "=" @Ident ":"`
	Index string `@( Ident | Int )`
}

var locationParser = participle.MustBuild[locationLine](
	participle.Lexer(locationLexer),
	participle.Elide("Whitespace"),
)

// LocationError reports a "Bit" line of a logic location file that does not
// follow any known record layout.
type LocationError struct {
	Line   int
	Column int
	Text   string
	Err    error
}

func (e *LocationError) Error() string {
	return fmt.Sprintf("netlist: logic location line %d col %d: %v: %q", e.Line, e.Column, e.Err, e.Text)
}

func (e *LocationError) Unwrap() error { return e.Err }

func (e *LocationError) Is(target error) bool { return target == ErrFormat }

// locationFailure builds a LocationError from a parser error, keeping the
// column participle reports.
func locationFailure(line int, text string, err error) *LocationError {
	le := &LocationError{Line: line, Text: text, Err: err}
	var perr participle.Error
	if errors.As(err, &perr) {
		le.Column = perr.Position().Column
		le.Err = errors.New(perr.Message())
	}
	return le
}
