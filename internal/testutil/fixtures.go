package testutil

import (
	"fmt"
	"strings"
	"testing"
)

// Paths of the files written by NewSampleProject.
const (
	SalesFile         = ModelDir + "/tables/Sales Data.tmdl"
	CustomersFile     = ModelDir + "/tables/Customers.tmdl"
	DateFile          = ModelDir + "/tables/Calendar.tmdl"
	ModelFile         = ModelDir + "/model.tmdl"
	RelationshipsFile = ModelDir + "/relationships.tmdl"
	ExpressionsFile   = ModelDir + "/expressions.tmdl"
	SalesVisualFile   = ReportDir + "/pages/overview/visuals/v1/visual.json"
	FilterVisualFile  = ReportDir + "/pages/overview/visuals/v2/visual.json"
)

// SalesTMDL declares 'Sales Data' with a dataflow-backed partition whose
// navigation record repeats the table name.
const SalesTMDL = `table 'Sales Data'
	lineageTag: 5e1c

	measure 'Total Sales' = SUM('Sales Data'[Amount])
		formatString: #,0

	measure 'Sales per Customer' =
			DIVIDE(
				[Total Sales],
				COUNTROWS(Customers)
			)

	column Amount
		dataType: decimal
		sourceColumn: Amount

	column CustomerKey
		dataType: int64
		sourceColumn: CustomerKey

	column OrderDate
		dataType: dateTime
		sourceColumn: OrderDate

	partition 'Sales Data' = m
		mode: import
		source =
				let
				    Source = PowerPlatform.Dataflows(null),
				    Workspace = Source{[workspaceId="0f3c"]}[Data],
				    Flow = Workspace{[dataflowId="9a1b"]}[Data],
				    Entity = Flow{[entity="Sales Data",version=""]}[Data]
				in
				    Entity

	annotation PBI_ResultType = Table
`

// CustomersTMDL declares Customers with a calculated column.
const CustomersTMDL = `table Customers
	lineageTag: 77aa

	measure 'Customer Count' = COUNTROWS(Customers)

	column CustomerKey
		dataType: int64
		sourceColumn: CustomerKey

	column Name
		dataType: string
		sourceColumn: Name

	column 'Lifetime Sales' = CALCULATE(SUM('Sales Data'[Amount]))
		dataType: decimal

	partition Customers = m
		mode: import
		source =
				let
				    Source = Sql.Database("srv", "crm"),
				    Customers = Source{[Schema="dbo",Item="Customers"]}[Data]
				in
				    Customers
`

// CalendarTMDL declares a calculated Calendar table.
const CalendarTMDL = `table Calendar
	lineageTag: 9d01

	column Date
		dataType: dateTime
		sourceColumn: [Date]

	column Year = YEAR(Calendar[Date])
		dataType: int64
		sortByColumn: Date

	hierarchy 'Date Hierarchy'
		level Year
			column: Year
		level Date
			column: Date

	partition Calendar = calculated
		mode: import
		source = CALENDAR(MIN('Sales Data'[OrderDate]), MAX('Sales Data'[OrderDate]))
`

// ModelTMDL lists the tables of the sample model.
const ModelTMDL = `model Model
	culture: en-US
	defaultPowerBIDataSourceVersion: powerBI_V3

annotation PBI_QueryOrder = ["Sales Data","Customers","Calendar"]

ref table 'Sales Data'
ref table Customers
ref table Calendar
`

// RelationshipsTMDL relates 'Sales Data' to Customers and Calendar.
const RelationshipsTMDL = `relationship 3f2a8c1e
	fromColumn: 'Sales Data'.CustomerKey
	toColumn: Customers.CustomerKey

relationship 41d7b2aa
	fromColumn: 'Sales Data'.OrderDate
	toColumn: Calendar.Date
`

// ExpressionsTMDL holds a DirectQuery expression to a remote model that
// happens to have a 'Sales Data' table of its own.
const ExpressionsTMDL = `expression 'Remote Model' = AnalysisServices.Database("powerbi://api.powerbi.com/v1.0/myorg/Finance", "Sales Data")
	lineageTag: 1b2c
`

// SalesVisualJSON binds a column and a measure of 'Sales Data'.
const SalesVisualJSON = `{
  "name": "v1",
  "visual": {
    "visualType": "tableEx",
    "query": {
      "queryState": {
        "Values": {
          "projections": [
            {
              "field": {"Column": {"Expression": {"SourceRef": {"Entity": "Sales Data"}}, "Property": "Amount"}},
              "queryRef": "Sales Data.Amount"
            },
            {
              "field": {"Measure": {"Expression": {"SourceRef": {"Entity": "Sales Data"}}, "Property": "Total Sales"}},
              "queryRef": "Sales Data.Total Sales"
            },
            {
              "field": {"Column": {"Expression": {"SourceRef": {"Entity": "Customers"}}, "Property": "Name"}},
              "queryRef": "Customers.Name"
            }
          ]
        }
      }
    }
  }
}
`

// FilterVisualJSON filters through a From alias.
const FilterVisualJSON = `{
  "name": "v2",
  "filterConfig": {
    "filters": [
      {
        "filter": {
          "Version": 2,
          "From": [{"Name": "s", "Entity": "Sales Data", "Type": 0}],
          "Where": [{"Condition": {"Comparison": {"ComparisonKind": 1, "Left": {"Column": {"Expression": {"SourceRef": {"Source": "s"}}, "Property": "Amount"}}, "Right": {"Literal": {"Value": "0D"}}}}}]
        }
      }
    ]
  }
}
`

// NewSampleProject returns a builder preloaded with a small but complete
// project: three tables, relationships, a remote expression and two visuals.
func NewSampleProject(t testing.TB) *TestProject {
	t.Helper()
	return NewTestProject(t).
		WithFile(SalesFile, SalesTMDL).
		WithFile(CustomersFile, CustomersTMDL).
		WithFile(DateFile, CalendarTMDL).
		WithFile(ModelFile, ModelTMDL).
		WithFile(RelationshipsFile, RelationshipsTMDL).
		WithFile(ExpressionsFile, ExpressionsTMDL).
		WithFile(SalesVisualFile, SalesVisualJSON).
		WithFile(FilterVisualFile, FilterVisualJSON)
}

// GeneratedTableName names table i of a generated project. Every third
// table has spaces in its name and must be quoted; the rest are bare.
func GeneratedTableName(i int) string {
	if i%3 == 0 {
		return fmt.Sprintf("Table With Spaces_%03d", i)
	}
	return fmt.Sprintf("Table_%03d", i)
}

// tmdlName quotes names that contain spaces.
func tmdlName(name string) string {
	if strings.ContainsRune(name, ' ') {
		return "'" + name + "'"
	}
	return name
}

// NewGeneratedProject returns a builder for a synthetic project with n
// tables named by GeneratedTableName. Table i has three columns, a measure
// referencing table i-1 and a relationship to table i-1; every fifth table
// gets a visual.
func NewGeneratedProject(t testing.TB, n int) *TestProject {
	t.Helper()
	p := NewTestProject(t)

	var model, rels strings.Builder
	model.WriteString("model Model\n\tculture: en-US\n\n")
	for i := 0; i < n; i++ {
		name := GeneratedTableName(i)
		ref := tmdlName(name)
		var b strings.Builder
		fmt.Fprintf(&b, "table %s\n\tlineageTag: t%d\n\n", ref, i)
		if i > 0 {
			prev := tmdlName(GeneratedTableName(i - 1))
			fmt.Fprintf(&b, "\tmeasure 'Total %03d' = SUM(%s[Value]) + COUNTROWS(%s)\n\n", i, ref, prev)
			fmt.Fprintf(&rels, "relationship r%d\n\tfromColumn: %s.Key\n\ttoColumn: %s.Key\n\n", i, ref, prev)
		}
		for _, col := range []string{"Key", "Value", "Label"} {
			fmt.Fprintf(&b, "\tcolumn %s\n\t\tdataType: string\n\t\tsourceColumn: %s\n\n", col, col)
		}
		fmt.Fprintf(&b, "\tpartition %s = m\n\t\tmode: import\n\t\tsource =\n\t\t\t\tlet\n\t\t\t\t    Source = Sql.Database(\"srv\", \"db\"),\n\t\t\t\t    Data = Source{[Schema=\"dbo\",Item=\"%s\"]}[Data]\n\t\t\t\tin\n\t\t\t\t    Data\n", ref, name)
		p.WithTable(fmt.Sprintf("Table_%03d", i), b.String())
		fmt.Fprintf(&model, "ref table %s\n", ref)

		if i%5 == 0 {
			p.WithVisual("p1", fmt.Sprintf("v%03d", i), fmt.Sprintf(
				`{"visual": {"query": {"queryState": {"Values": {"projections": [{"field": {"Column": {"Expression": {"SourceRef": {"Entity": %q}}, "Property": "Value"}}, "queryRef": %q}]}}}}}`,
				name, name+".Value"))
		}
	}
	p.WithModel(model.String())
	if rels.Len() > 0 {
		p.WithRelationships(rels.String())
	}
	return p
}
