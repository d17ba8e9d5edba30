package parser

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// sqlLexer tokenizes the supported SQL subset. Keywords are matched
// case-insensitively against Ident tokens.
var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*`},
	{Name: "String", Pattern: `'(?:[^']|'')*'`},
	{Name: "QIdent", Pattern: `"(?:[^"]|"")*"`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Punct", Pattern: `[(),;*=\-]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

// sqlParser parses a script of semicolon-separated statements.
var sqlParser = participle.MustBuild[sqlScript](
	participle.Lexer(sqlLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.CaseInsensitive("Ident"),
	participle.UseLookahead(2),
)

//nolint:govet // participle grammar tags are not standard struct tags
type sqlScript struct {
	Statements []*sqlStatement `";"* ( @@ ( ";"+ @@? )* )?`
}

//nolint:govet // participle grammar tags are not standard struct tags
type sqlStatement struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Explain bool        `@"EXPLAIN"?`
	Create  *createStmt `( @@`
	Insert  *insertStmt `| @@`
	Select  *selectStmt `| @@ )`
}

//nolint:govet // participle grammar tags are not standard struct tags
type createStmt struct {
	Pos    lexer.Position
	EndPos lexer.Position

	IfNotExists bool         `"CREATE" "TABLE" @( "IF" "NOT" "EXISTS" )?`
	Table       string       `@( Ident | QIdent )`
	Columns     []*columnDef `"(" @@ ( "," @@ )* ")"`
}

//nolint:govet // participle grammar tags are not standard struct tags
type columnDef struct {
	Name       string `@( Ident | QIdent )`
	Type       string `@Ident`
	Size       *int   `( "(" @Int ")" )?`
	PrimaryKey bool   `( @( "PRIMARY" "KEY" )`
	NotNull    bool   `| @( "NOT" "NULL" ) )*`
}

//nolint:govet // participle grammar tags are not standard struct tags
type insertStmt struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Table   string      `"INSERT" "INTO" @( Ident | QIdent )`
	Columns []string    `( "(" @( Ident | QIdent ) ( "," @( Ident | QIdent ) )* ")" )?`
	Rows    []*valueRow `"VALUES" @@ ( "," @@ )*`
}

//nolint:govet // participle grammar tags are not standard struct tags
type valueRow struct {
	Values []*literal `"(" @@ ( "," @@ )* ")"`
}

//nolint:govet // participle grammar tags are not standard struct tags
type literal struct {
	Pos lexer.Position

	Null   bool    `  @"NULL"`
	Number *string `| @( "-"? Int )`
	Text   *string `| @String`
}

//nolint:govet // participle grammar tags are not standard struct tags
type selectStmt struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Columns []string     `"SELECT" ( @"*" | @( Ident | QIdent ) ( "," @( Ident | QIdent ) )* )`
	Table   string       `"FROM" @( Ident | QIdent )`
	Where   *whereClause `( "WHERE" @@ )?`
}

//nolint:govet // participle grammar tags are not standard struct tags
type whereClause struct {
	Column string   `@( Ident | QIdent ) "="`
	Value  *literal `@@`
}
