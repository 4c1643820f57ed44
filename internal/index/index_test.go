package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidanlsb/pbipkit/internal/model"
	"github.com/aidanlsb/pbipkit/internal/project"
	"github.com/aidanlsb/pbipkit/internal/testutil"
)

func buildIndex(t *testing.T, p *testutil.TestProject) *Index {
	t.Helper()
	layout, err := project.Discover(p.Path, nil)
	require.NoError(t, err)
	idx, err := Build(context.Background(), layout, DiskSource{Layout: layout}, Options{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	return idx
}

func TestBuildRegistry(t *testing.T) {
	idx := buildIndex(t, testutil.NewSampleProject(t).Build())

	var names []string
	for _, tbl := range idx.Tables() {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{"Calendar", "Customers", "Sales Data"}, names)

	sales, ok := idx.Table("Sales Data")
	require.True(t, ok)
	assert.Equal(t, testutil.SalesFile, sales.File)
	assert.Equal(t, 1, sales.Line)
	assert.Equal(t, []string{"Amount", "CustomerKey", "OrderDate"}, sales.Columns)
	assert.Equal(t, []string{"Total Sales", "Sales per Customer"}, sales.Measures)
	assert.True(t, sales.HasColumn("Amount"))
	assert.False(t, sales.HasColumn("amount"))

	customers, _ := idx.Table("Customers")
	assert.Equal(t, []string{"CustomerKey", "Name", "Lifetime Sales"}, customers.Columns)

	table, ok := idx.MeasureTable("Customer Count")
	assert.True(t, ok)
	assert.Equal(t, "Customers", table)
}

func TestBuildReverseReferences(t *testing.T) {
	idx := buildIndex(t, testutil.NewSampleProject(t).Build())

	sales, _ := idx.Table("Sales Data")
	assert.Equal(t, []string{
		testutil.SalesVisualFile,
		testutil.FilterVisualFile,
		testutil.ModelFile,
		testutil.RelationshipsFile,
		testutil.DateFile,
		testutil.CustomersFile,
	}, sales.ReferencedBy)

	// The remote model's "Sales Data" is a string inside a guarded call.
	entry, ok := idx.File(testutil.ExpressionsFile)
	require.True(t, ok)
	assert.False(t, entry.Mentions("Sales Data"))

	files := idx.CandidateFiles(model.KindColumn, "Sales Data")
	assert.Contains(t, files, testutil.SalesFile)
	assert.NotContains(t, files, testutil.ExpressionsFile)
	assert.Equal(t, idx.Files(), idx.CandidateFiles(model.KindMeasure, "Sales Data"))
	assert.Nil(t, idx.CandidateFiles(model.KindTable, "Missing"))
}

func TestBuildDuplicates(t *testing.T) {
	p := testutil.NewTestProject(t).
		WithTable("Sales", "table Sales\n\tcolumn A\n").
		WithTable("Sales_2", "table Sales\n\tcolumn B\n").
		Build()
	idx := buildIndex(t, p)

	sales, _ := idx.Table("Sales")
	assert.Equal(t, []string{"A"}, sales.Columns)
	require.Len(t, idx.Duplicates(), 1)
	dup := idx.Duplicates()[0]
	assert.Equal(t, "Sales", dup.Name)
	assert.Equal(t, testutil.ModelDir+"/tables/Sales.tmdl", dup.First)
	assert.Equal(t, testutil.ModelDir+"/tables/Sales_2.tmdl", dup.File)
}

func TestBuildSkipsUnreadableFiles(t *testing.T) {
	p := testutil.NewTestProject(t).
		WithTable("Sales", "table Sales\n").
		WithRawFile(testutil.ModelDir+"/tables/Broken.tmdl", []byte{'t', 0, 0xff, 0xfe, 0}).
		Build()
	idx := buildIndex(t, p)

	require.Len(t, idx.Skipped(), 1)
	assert.Equal(t, testutil.ModelDir+"/tables/Broken.tmdl", idx.Skipped()[0].File)
	_, ok := idx.File(testutil.ModelDir + "/tables/Broken.tmdl")
	assert.False(t, ok)
}

func TestBuildNoTables(t *testing.T) {
	p := testutil.NewTestProject(t).
		WithModel("model Model\n").
		Build()
	layout, err := project.Discover(p.Path, nil)
	require.NoError(t, err)

	_, err = Build(context.Background(), layout, DiskSource{Layout: layout}, Options{})
	assert.ErrorIs(t, err, model.ErrProjectStructure)
}

func TestBuildRecordsInvalidJSON(t *testing.T) {
	p := testutil.NewTestProject(t).
		WithTable("Sales", "table Sales\n").
		WithVisual("p1", "v1", `{"visual": {`).
		Build()
	idx := buildIndex(t, p)

	entry, ok := idx.File(testutil.ReportDir + "/pages/p1/visuals/v1/visual.json")
	require.True(t, ok)
	assert.True(t, entry.IsReport())
	assert.Error(t, entry.JSONErr)
}

func TestQueryOrder(t *testing.T) {
	idx := buildIndex(t, testutil.NewSampleProject(t).Build())
	entry, _ := idx.File(testutil.ModelFile)

	for _, obj := range entry.Doc.Objects {
		if obj.Name != "PBI_QueryOrder" {
			continue
		}
		strs := QueryOrder(entry.Text(), obj)
		require.Len(t, strs, 3)
		assert.Equal(t, "Sales Data", strs[0].Name)
		assert.Equal(t, `"Sales Data"`, entry.Text()[strs[0].Start:strs[0].End])
		return
	}
	t.Fatal("PBI_QueryOrder annotation not found")
}

func TestFingerprintsTrackRawContent(t *testing.T) {
	p := testutil.NewSampleProject(t).Build()
	before := buildIndex(t, p).Fingerprints([]string{testutil.SalesFile})

	p.Overwrite(testutil.SalesFile, testutil.SalesTMDL+"\n")
	after := buildIndex(t, p).Fingerprints([]string{testutil.SalesFile})
	assert.NotEqual(t, before[testutil.SalesFile], after[testutil.SalesFile])
}
