package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesTable = "table 'Sales Data'\n" +
	"\tlineageTag: 1a2b\n" +
	"\n" +
	"\tmeasure 'Total Sales' = SUM('Sales Data'[Amount])\n" +
	"\t\tformatString: #,0\n" +
	"\n" +
	"\tmeasure Margin =\n" +
	"\t\t\tVAR cost = SUM('Sales Data'[Cost])\n" +
	"\t\t\tRETURN\n" +
	"\t\t\t\t[Total Sales] - cost\n" +
	"\t\tdisplayFolder: KPIs\n" +
	"\n" +
	"\tcolumn Amount\n" +
	"\t\tdataType: decimal\n" +
	"\t\tsortByColumn: Region\n" +
	"\n" +
	"\tcolumn Region\n" +
	"\t\tdataType: string\n" +
	"\n" +
	"\tpartition 'Sales Data' = m\n" +
	"\t\tmode: import\n" +
	"\t\tsource =\n" +
	"\t\t\t\tlet\n" +
	"\t\t\t\t    Source = Sql.Database(\"srv\", \"db\")\n" +
	"\t\t\t\tin\n" +
	"\t\t\t\t    Source\n" +
	"\n" +
	"\tannotation PBI_ResultType = Table\n"

func TestParseTMDLObjects(t *testing.T) {
	doc := ParseTMDL(salesTable)

	tables := doc.Tables()
	require.Len(t, tables, 1)
	assert.Equal(t, "Sales Data", tables[0].Name)
	assert.True(t, tables[0].Quoted)
	assert.Equal(t, "'Sales Data'", salesTable[tables[0].NameStart:tables[0].NameEnd])

	var kinds []string
	for _, o := range doc.Objects {
		kinds = append(kinds, o.Keyword+" "+o.Name)
		assert.Equal(t, "Sales Data", o.Table, "object %s", o.Name)
	}
	assert.Equal(t, []string{
		"table Sales Data",
		"measure Total Sales",
		"measure Margin",
		"column Amount",
		"column Region",
		"partition Sales Data",
		"annotation PBI_ResultType",
	}, kinds)

	partition := doc.Objects[5]
	assert.Equal(t, "m", partition.Mode)
}

func TestParseTMDLExpressions(t *testing.T) {
	doc := ParseTMDL(salesTable)
	require.Len(t, doc.Expressions, 3)

	single := doc.Expressions[0]
	assert.Equal(t, ExprDAX, single.Dialect)
	assert.Equal(t, "SUM('Sales Data'[Amount])", salesTable[single.Start:single.End])
	assert.Equal(t, "Total Sales", single.Owner.Name)

	block := doc.Expressions[1]
	assert.Equal(t, ExprDAX, block.Dialect)
	text := salesTable[block.Start:block.End]
	assert.Contains(t, text, "VAR cost")
	assert.Contains(t, text, "[Total Sales] - cost")
	assert.NotContains(t, text, "displayFolder")
	assert.Equal(t, 8, block.Line)

	m := doc.Expressions[2]
	assert.Equal(t, ExprM, m.Dialect)
	assert.Contains(t, salesTable[m.Start:m.End], "Sql.Database")
	assert.Equal(t, "Sales Data", m.Table)
}

func TestParseTMDLProperties(t *testing.T) {
	doc := ParseTMDL(salesTable)

	byKey := map[string]*Property{}
	for _, p := range doc.Properties {
		byKey[p.Key] = p
	}
	require.Contains(t, byKey, "sortByColumn")
	sort := byKey["sortByColumn"]
	assert.Equal(t, "Region", sort.Value)
	assert.Equal(t, "Region", salesTable[sort.ValueStart:sort.ValueEnd])
	assert.Equal(t, "Amount", sort.Owner.Name)
	assert.Equal(t, "Sales Data", sort.Table())

	// Expression blocks are not mistaken for properties.
	assert.NotContains(t, byKey, "Source")
	assert.Contains(t, byKey, "displayFolder")
}

func TestParseTMDLFencedExpression(t *testing.T) {
	content := "table Sales\n" +
		"\tmeasure Fenced = ```\n" +
		"\t\t\tSUM ( Sales[Amount] )\n" +
		"\n" +
		"\t\t\t```\n" +
		"\tcolumn Amount\n"
	doc := ParseTMDL(content)

	require.Len(t, doc.Expressions, 1)
	assert.Contains(t, content[doc.Expressions[0].Start:doc.Expressions[0].End], "SUM ( Sales[Amount] )")
	assert.NotContains(t, content[doc.Expressions[0].Start:doc.Expressions[0].End], "```")
	assert.Equal(t, "column", doc.Objects[2].Keyword)
}

func TestParseTMDLSpaceIndentation(t *testing.T) {
	content := "table Sales\n" +
		"    measure Total =\n" +
		"            SUM(Sales[Amount])\n" +
		"        formatString: 0\n"
	doc := ParseTMDL(content)

	require.Len(t, doc.Expressions, 1)
	assert.Equal(t, "SUM(Sales[Amount])", content[doc.Expressions[0].Start:doc.Expressions[0].End])
	require.Len(t, doc.Properties, 1)
	assert.Equal(t, "formatString", doc.Properties[0].Key)
}

func TestParseTMDLModelFile(t *testing.T) {
	content := "model Model\n" +
		"\tculture: en-US\n" +
		"\n" +
		"annotation PBI_QueryOrder = [\"Sales Data\",\"Customers\"]\n" +
		"\n" +
		"ref table 'Sales Data'\n" +
		"ref table Customers\n"
	doc := ParseTMDL(content)

	var refs []string
	for _, o := range doc.Objects {
		if o.Keyword == "ref table" {
			refs = append(refs, o.Name)
		}
		if o.Name == "PBI_QueryOrder" {
			assert.Equal(t, `["Sales Data","Customers"]`, content[o.ValueStart:o.ValueEnd])
		}
	}
	assert.Equal(t, []string{"Sales Data", "Customers"}, refs)
	assert.Empty(t, doc.Tables())
}

func TestParseTMDLRelationship(t *testing.T) {
	content := "relationship 3f2a\n" +
		"\tfromColumn: 'Sales Data'.CustomerKey\n" +
		"\ttoColumn: Customers.CustomerKey\n"
	doc := ParseTMDL(content)
	require.Len(t, doc.Properties, 2)

	from := doc.Properties[0]
	table, column, ok := ParseQualified(content, from.ValueStart, from.ValueEnd)
	require.True(t, ok)
	assert.Equal(t, "Sales Data", table.Name)
	assert.True(t, table.Quoted)
	assert.Equal(t, "CustomerKey", column.Name)
	assert.Equal(t, "CustomerKey", content[column.Start:column.End])

	table, _, ok = ParseQualified(content, doc.Properties[1].ValueStart, doc.Properties[1].ValueEnd)
	require.True(t, ok)
	assert.Equal(t, "Customers", table.Name)
}

func TestParseNameEscapedQuote(t *testing.T) {
	content := "table 'O''Brien Sales'"
	doc := ParseTMDL(content)
	require.Len(t, doc.Objects, 1)
	assert.Equal(t, "O'Brien Sales", doc.Objects[0].Name)
	assert.Equal(t, len(content), doc.Objects[0].NameEnd)
}

func TestPosition(t *testing.T) {
	content := "ab\ncde\n\nf"
	lines := NewLines(content)
	for off := 0; off < len(content); off++ {
		l1, c1 := lines.Position(off)
		l2, c2 := Position(content, off)
		assert.Equal(t, l2, l1)
		assert.Equal(t, c2, c1)
	}
	line, col := lines.Position(4)
	assert.Equal(t, 2, line)
	assert.Equal(t, 2, col)
}
