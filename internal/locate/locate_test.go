package locate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidanlsb/pbipkit/internal/guard"
	"github.com/aidanlsb/pbipkit/internal/index"
	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/project"
	"github.com/aidanlsb/pbipkit/internal/quoting"
	"github.com/aidanlsb/pbipkit/internal/testutil"
)

func newLocator(t *testing.T, p *testutil.TestProject) (*Locator, *index.Index) {
	t.Helper()
	layout, err := project.Discover(p.Path, nil)
	require.NoError(t, err)
	idx, err := index.Build(context.Background(), layout, index.DiskSource{Layout: layout}, index.Options{})
	require.NoError(t, err)
	return New(idx, nil, nil), idx
}

// rewriteAll applies plan to the index snapshot and returns the new content
// of every touched file.
func rewriteAll(t *testing.T, idx *index.Index, plan *model.RenamePlan) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for file, occs := range plan.ByFile() {
		entry, ok := idx.File(file)
		require.True(t, ok, file)
		text, err := Rewrite(guard.New(), entry.Text(), occs)
		require.NoError(t, err, file)
		out[file] = text
	}
	return out
}

func countByFile(plan *model.RenamePlan) map[string]int {
	counts := make(map[string]int)
	for _, occ := range plan.Occurrences {
		counts[occ.File]++
	}
	return counts
}

func TestPlanTableRenameDropsQuoting(t *testing.T) {
	loc, idx := newLocator(t, testutil.NewSampleProject(t).Build())

	plan, err := loc.Plan(model.TableScope(), "Sales Data", "SalesData")
	require.NoError(t, err)
	assert.False(t, plan.NoOp())
	assert.True(t, plan.Old.NeedsQuoting)
	assert.Equal(t, "'Sales Data'", plan.Old.Quoted)
	assert.False(t, plan.New.NeedsQuoting)

	assert.Equal(t, map[string]int{
		testutil.SalesFile:         3,
		testutil.CustomersFile:     1,
		testutil.DateFile:          2,
		testutil.ModelFile:         2,
		testutil.RelationshipsFile: 2,
		testutil.SalesVisualFile:   4,
		testutil.FilterVisualFile:  1,
	}, countByFile(plan))

	files := rewriteAll(t, idx, plan)
	sales := files[testutil.SalesFile]
	assert.True(t, strings.HasPrefix(sales, "table SalesData\n"))
	assert.Contains(t, sales, "measure 'Total Sales' = SUM(SalesData[Amount])")
	assert.Contains(t, sales, "partition SalesData = m")
	assert.Contains(t, sales, `Flow{[entity="Sales Data",version=""]}[Data]`)

	assert.Contains(t, files[testutil.RelationshipsFile], "fromColumn: SalesData.CustomerKey")
	assert.Contains(t, files[testutil.ModelFile], `annotation PBI_QueryOrder = ["SalesData","Customers","Calendar"]`)
	assert.Contains(t, files[testutil.ModelFile], "ref table SalesData\n")
	assert.Contains(t, files[testutil.SalesVisualFile], `"queryRef": "SalesData.Total Sales"`)
	assert.Contains(t, files[testutil.FilterVisualFile], `{"Name": "s", "Entity": "SalesData", "Type": 0}`)

	for file, text := range files {
		if file == testutil.SalesFile {
			assert.Equal(t, 1, strings.Count(text, "Sales Data"), file)
			continue
		}
		assert.NotContains(t, text, "Sales Data", file)
	}
}

func TestPlanOrdering(t *testing.T) {
	loc, _ := newLocator(t, testutil.NewSampleProject(t).Build())
	plan, err := loc.Plan(model.TableScope(), "Sales Data", "Sales")
	require.NoError(t, err)

	for i := 1; i < len(plan.Occurrences); i++ {
		prev, cur := plan.Occurrences[i-1], plan.Occurrences[i]
		if prev.File == cur.File {
			assert.Greater(t, prev.Offset, cur.Offset)
		} else {
			assert.Less(t, prev.File, cur.File)
		}
	}
	assert.Len(t, plan.Fingerprints, len(plan.Files()))
}

func TestPlanTableRenameAddsQuoting(t *testing.T) {
	p := testutil.NewTestProject(t).
		WithTable("Sales", "table Sales\n\tmeasure Total = SUM(Sales[Amount]) + COUNTROWS(Sales)\n\tcolumn Amount\n").
		Build()
	loc, idx := newLocator(t, p)

	plan, err := loc.Plan(model.TableScope(), "Sales", "Sales 2024")
	require.NoError(t, err)
	files := rewriteAll(t, idx, plan)
	assert.Equal(t,
		"table 'Sales 2024'\n\tmeasure Total = SUM('Sales 2024'[Amount]) + COUNTROWS('Sales 2024')\n\tcolumn Amount\n",
		files[testutil.ModelDir+"/tables/Sales.tmdl"])
}

func TestPlanPrefixNeverMatches(t *testing.T) {
	p := testutil.NewTestProject(t).
		WithTable("Sales", "table Sales\n\tcolumn Amount\n").
		WithTable("SalesTarget", "table SalesTarget\n\tmeasure Gap = SUM(SalesTarget[Amount]) - SUM(Sales[Amount])\n\tcolumn Amount\n").
		WithVisual("p1", "v1", `{"visual": {"Entity": "SalesTarget", "queryRef": "SalesTarget.Amount"}}`).
		Build()
	loc, idx := newLocator(t, p)

	plan, err := loc.Plan(model.TableScope(), "Sales", "Revenue")
	require.NoError(t, err)
	files := rewriteAll(t, idx, plan)

	target := files[testutil.ModelDir+"/tables/SalesTarget.tmdl"]
	assert.Contains(t, target, "SUM(SalesTarget[Amount]) - SUM(Revenue[Amount])")
	assert.NotContains(t, files, testutil.ReportDir+"/pages/p1/visuals/v1/visual.json")
}

func TestPlanColumnRename(t *testing.T) {
	loc, idx := newLocator(t, testutil.NewSampleProject(t).Build())

	plan, err := loc.Plan(model.ColumnScope("Sales Data"), "Amount", "Net Amount")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		testutil.SalesFile:        2,
		testutil.CustomersFile:    1,
		testutil.SalesVisualFile:  2,
		testutil.FilterVisualFile: 1,
	}, countByFile(plan))

	files := rewriteAll(t, idx, plan)
	sales := files[testutil.SalesFile]
	assert.Contains(t, sales, "\tcolumn 'Net Amount'\n")
	assert.Contains(t, sales, "SUM('Sales Data'[Net Amount])")
	assert.Contains(t, sales, "sourceColumn: Amount")
	assert.Contains(t, files[testutil.SalesVisualFile], `"Property": "Net Amount"}}`)
	assert.Contains(t, files[testutil.SalesVisualFile], `"queryRef": "Sales Data.Net Amount"`)
	assert.Contains(t, files[testutil.FilterVisualFile], `"Property": "Net Amount"`)
}

func TestPlanColumnRenameDeclarationSites(t *testing.T) {
	loc, idx := newLocator(t, testutil.NewSampleProject(t).Build())

	plan, err := loc.Plan(model.ColumnScope("Calendar"), "Date", "Day")
	require.NoError(t, err)
	files := rewriteAll(t, idx, plan)

	cal := files[testutil.DateFile]
	assert.Contains(t, cal, "\tcolumn Day\n")
	assert.Contains(t, cal, "YEAR(Calendar[Day])")
	assert.Contains(t, cal, "sortByColumn: Day")
	assert.Contains(t, cal, "\t\tlevel Date\n\t\t\tcolumn: Day\n")
	assert.Contains(t, cal, "sourceColumn: [Date]")
	assert.Contains(t, files[testutil.RelationshipsFile], "toColumn: Calendar.Day")
	assert.Len(t, plan.Occurrences, 5)
}

func TestPlanRelationshipColumnOnlyMatchesItsTable(t *testing.T) {
	loc, idx := newLocator(t, testutil.NewSampleProject(t).Build())

	plan, err := loc.Plan(model.ColumnScope("Sales Data"), "CustomerKey", "CustKey")
	require.NoError(t, err)
	files := rewriteAll(t, idx, plan)
	rels := files[testutil.RelationshipsFile]
	assert.Contains(t, rels, "fromColumn: 'Sales Data'.CustKey")
	assert.Contains(t, rels, "toColumn: Customers.CustomerKey")
}

func TestPlanMeasureRename(t *testing.T) {
	loc, idx := newLocator(t, testutil.NewSampleProject(t).Build())

	plan, err := loc.Plan(model.MeasureScope(""), "Total Sales", "Revenue")
	require.NoError(t, err)
	assert.Equal(t, "Sales Data", plan.Scope.Table)
	assert.Len(t, plan.Occurrences, 4)

	files := rewriteAll(t, idx, plan)
	sales := files[testutil.SalesFile]
	assert.Contains(t, sales, "measure Revenue = SUM('Sales Data'[Amount])")
	assert.Contains(t, sales, "[Revenue],")
	assert.Contains(t, files[testutil.SalesVisualFile], `"queryRef": "Sales Data.Revenue"`)
}

func TestPlanNoOp(t *testing.T) {
	loc, _ := newLocator(t, testutil.NewSampleProject(t).Build())

	plan, err := loc.Plan(model.TableScope(), "Does Not Exist", "Does Not Exist")
	require.NoError(t, err)
	assert.True(t, plan.NoOp())
	assert.Empty(t, plan.Occurrences)
}

func TestPlanPreconditions(t *testing.T) {
	loc, _ := newLocator(t, testutil.NewSampleProject(t).Build())

	tests := []struct {
		name    string
		scope   model.Scope
		old     string
		new     string
		wantErr error
	}{
		{"missing table", model.TableScope(), "Orders", "Sales", model.ErrNotFound},
		{"missing table is a reference error", model.TableScope(), "Orders", "Sales", model.ErrReference},
		{"table collision", model.TableScope(), "Sales Data", "Customers", model.ErrStructural},
		{"missing column", model.ColumnScope("Sales Data"), "Price", "Cost", model.ErrNotFound},
		{"column collides with column", model.ColumnScope("Sales Data"), "Amount", "OrderDate", model.ErrStructural},
		{"column collides with measure", model.ColumnScope("Sales Data"), "Amount", "Total Sales", model.ErrStructural},
		{"measure in wrong table", model.MeasureScope("Customers"), "Total Sales", "X", model.ErrNotFound},
		{"measure collision", model.MeasureScope(""), "Total Sales", "Customer Count", model.ErrStructural},
		{"empty name", model.TableScope(), "Sales Data", " ", model.ErrStructural},
		{"line break", model.TableScope(), "Sales Data", "Sales\nData", model.ErrStructural},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loc.Plan(tt.scope, tt.old, tt.new)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFind(t *testing.T) {
	loc, _ := newLocator(t, testutil.NewSampleProject(t).Build())

	occs, err := loc.Find(model.TableScope(), "Customers")
	require.NoError(t, err)
	require.NotEmpty(t, occs)
	for _, occ := range occs {
		assert.Empty(t, occ.Replacement)
		assert.Contains(t, occ.Text, "Customers")
	}

	// The M step named Customers is not a reference to the table.
	for _, occ := range occs {
		assert.NotEqual(t, model.DialectQuery, occ.Dialect)
	}
}

func TestPlanMQueryReference(t *testing.T) {
	p := testutil.NewTestProject(t).
		WithTable("Staging", "table Staging\n\tcolumn Id\n").
		WithTable("Clean", "table Clean\n"+
			"\tcolumn Id\n"+
			"\tpartition Clean = m\n"+
			"\t\tsource =\n"+
			"\t\t\t\tlet\n"+
			"\t\t\t\t    Source = Staging,\n"+
			"\t\t\t\t    Rows = Table.RowCount(Staging)\n"+
			"\t\t\t\tin\n"+
			"\t\t\t\t    Source\n").
		Build()
	loc, idx := newLocator(t, p)

	plan, err := loc.Plan(model.TableScope(), "Staging", "Raw Staging")
	require.NoError(t, err)
	files := rewriteAll(t, idx, plan)
	clean := files[testutil.ModelDir+"/tables/Clean.tmdl"]
	assert.Contains(t, clean, `Source = #"Raw Staging",`)
	assert.Contains(t, clean, `Table.RowCount(#"Raw Staging")`)
}

func TestPlanMQueryOperands(t *testing.T) {
	p := testutil.NewTestProject(t).
		WithTable("Sales", "table Sales\n\tcolumn Id\n").
		WithTable("Returns", "table Returns\n\tcolumn Id\n").
		WithTable("Combined", "table Combined\n"+
			"\tcolumn Id\n"+
			"\tpartition Combined = m\n"+
			"\t\tsource =\n"+
			"\t\t\t\tlet\n"+
			"\t\t\t\t    Source = Sales & Returns,\n"+
			"\t\t\t\t    Picked = if true then Sales else Returns\n"+
			"\t\t\t\tin\n"+
			"\t\t\t\t    Picked\n").
		Build()
	loc, idx := newLocator(t, p)

	combined := testutil.ModelDir + "/tables/Combined.tmdl"
	refs, err := loc.Find(model.TableScope(), "Sales")
	require.NoError(t, err)
	inCombined := 0
	for _, occ := range refs {
		if occ.File == combined {
			inCombined++
		}
	}
	assert.Equal(t, 2, inCombined)

	plan, err := loc.Plan(model.TableScope(), "Sales", "Revenue")
	require.NoError(t, err)
	files := rewriteAll(t, idx, plan)
	assert.Contains(t, files[combined], "Source = Revenue & Returns,")
	assert.Contains(t, files[combined], "if true then Revenue else Returns")
}

func TestQuotingFixPlan(t *testing.T) {
	loc, idx := newLocator(t, testutil.NewSampleProject(t).Build())

	plan := loc.QuotingFixPlan()
	assert.True(t, plan.QuotingFix)
	require.Len(t, plan.Occurrences, 1)
	occ := plan.Occurrences[0]
	assert.Equal(t, testutil.DateFile, occ.File)
	assert.Equal(t, "Calendar", occ.Text)
	assert.Equal(t, "'Calendar'", occ.Replacement)

	files := rewriteAll(t, idx, plan)
	assert.Contains(t, files[testutil.DateFile], "YEAR('Calendar'[Date])")
	assert.Contains(t, files[testutil.DateFile], "CALENDAR(MIN(")
}

func TestQuotingFixPlanExtraReservedWords(t *testing.T) {
	p := testutil.NewTestProject(t).
		WithTable("Revenue", "table Revenue\n\tmeasure Total = SUM(Revenue[Amount])\n\tcolumn Amount\n").
		Build()
	layout, err := project.Discover(p.Path, nil)
	require.NoError(t, err)
	idx, err := index.Build(context.Background(), layout, index.DiskSource{Layout: layout}, index.Options{})
	require.NoError(t, err)

	assert.Empty(t, New(idx, nil, nil).QuotingFixPlan().Occurrences)
	assert.Len(t, New(idx, nil, quoting.NewRules("Revenue")).QuotingFixPlan().Occurrences, 1)
}
