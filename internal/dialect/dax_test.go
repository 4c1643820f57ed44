package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidanlsb/pbipkit/internal/model"
)

func scanAll(expr string) []DAXToken {
	return ScanDAX(expr, 0, len(expr))
}

func TestScanDAXQualifiedColumns(t *testing.T) {
	expr := `SUMX('Sales Data', 'Sales Data'[Amount] * Rates [Rate])`
	tokens := scanAll(expr)
	require.Len(t, tokens, 5)

	assert.Equal(t, DAXTable, tokens[0].Kind)
	assert.Equal(t, "Sales Data", tokens[0].Name)
	assert.False(t, tokens[0].Accessor)

	assert.True(t, tokens[1].Accessor)
	assert.Equal(t, model.FormSingleQuoted, tokens[1].Form)
	assert.Equal(t, "Amount", tokens[2].Name)
	assert.Equal(t, "Sales Data", tokens[2].Table)
	assert.Equal(t, "[Amount]", expr[tokens[2].Start:tokens[2].End])

	assert.Equal(t, "Rates", tokens[3].Name)
	assert.Equal(t, model.FormBare, tokens[3].Form)
	assert.True(t, tokens[3].Accessor)
	assert.Equal(t, "Rate", tokens[4].Name)
	assert.Equal(t, "Rates", tokens[4].Table)
}

func TestScanDAXUnqualifiedMeasure(t *testing.T) {
	tokens := scanAll(`[Total Sales] / [Units]`)
	require.Len(t, tokens, 2)
	for _, tok := range tokens {
		assert.Equal(t, DAXColumn, tok.Kind)
		assert.Empty(t, tok.Table)
	}
}

func TestScanDAXSkipsStringsAndComments(t *testing.T) {
	expr := "// Sales[Amount]\n" +
		"-- 'Sales'[Amount]\n" +
		"/* COUNTROWS(Sales) */\n" +
		`IF([x] = "Sales[Amount]", "it''s", BLANK())`
	tokens := scanAll(expr)
	require.Len(t, tokens, 1)
	assert.Equal(t, "x", tokens[0].Name)
}

func TestScanDAXBareTableArguments(t *testing.T) {
	tokens := scanAll(`COUNTROWS(Sales) + COUNTROWS ( FILTER ( Customers , TRUE ) )`)
	var names []string
	for _, tok := range tokens {
		names = append(names, tok.Name)
	}
	assert.Equal(t, []string{"Sales", "Customers"}, names)
}

func TestScanDAXExcludesVariables(t *testing.T) {
	expr := "VAR Sales = SUM(Orders[Amount])\nRETURN DIVIDE(Sales, 2)"
	tokens := scanAll(expr)
	var tables []string
	for _, tok := range tokens {
		if tok.Kind == DAXTable {
			tables = append(tables, tok.Name)
		}
	}
	assert.Equal(t, []string{"Orders"}, tables)
}

func TestScanDAXEscapes(t *testing.T) {
	tokens := scanAll(`'O''Brien'[a]]b]`)
	require.Len(t, tokens, 2)
	assert.Equal(t, "O'Brien", tokens[0].Name)
	assert.Equal(t, "a]b", tokens[1].Name)
	assert.Equal(t, "O'Brien", tokens[1].Table)
}

func TestScanDAXRange(t *testing.T) {
	content := "measure X = Sales[Amount]\n"
	start := len("measure X = ")
	tokens := ScanDAX(content, start, len(content)-1)
	require.Len(t, tokens, 2)
	assert.Equal(t, start, tokens[0].Start)
	assert.Equal(t, "Sales", content[tokens[0].Start:tokens[0].End])
}

func TestBalanceDAX(t *testing.T) {
	tests := []struct {
		name string
		expr string
		ok   bool
	}{
		{"balanced", `CALCULATE(SUM(Sales[Amount]), {1, 2})`, true},
		{"paren in string", `IF([a] = "(", 1, 0)`, true},
		{"missing close", `CALCULATE(SUM(Sales[Amount])`, false},
		{"extra close", `SUM(Sales[Amount]))`, false},
		{"mismatched", `SUM(Sales[Amount]}`, false},
		{"open string", `"abc`, false},
		{"open name", `'Sales[Amount]`, false},
		{"open bracket", `Sales[Amount`, false},
		{"open comment", `1 /* x`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := BalanceDAX(tt.expr, 0, len(tt.expr))
			if tt.ok {
				assert.Nil(t, problem)
			} else {
				assert.NotNil(t, problem)
			}
		})
	}
}
