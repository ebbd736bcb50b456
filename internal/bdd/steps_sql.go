package bdd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chirino/carevault/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		sq := &sqlSteps{s: s}
		ctx.Before(sq.clearDatabase)
		ctx.Step(`^I execute SQL query:$`, sq.iExecuteSQLQuery)
		ctx.Step(`^the SQL result should have (\d+) rows?$`, sq.theSQLResultShouldHaveRows)
		ctx.Step(`^the SQL result at row (\d+) column "([^"]*)" should be "([^"]*)"$`, sq.theSQLResultAtRowColumnShouldBe)
		ctx.Step(`^the stored (message|content record) \${([^}]*)} is tampered with$`, sq.theStoredRowIsTamperedWith)
	})
}

type sqlSteps struct {
	s        *cucumber.TestScenario
	lastRows []map[string]interface{}
}

func (sq *sqlSteps) clearDatabase(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
	if sq.s.Suite.DB == nil {
		return ctx, nil
	}
	return ctx, sq.s.Suite.DB.ClearAll(ctx)
}

func (sq *sqlSteps) iExecuteSQLQuery(query *godog.DocString) error {
	if sq.s.Suite.DB == nil {
		return fmt.Errorf("no TestDB configured")
	}
	expanded, err := sq.s.Expand(query.Content)
	if err != nil {
		return err
	}
	sq.lastRows, err = sq.s.Suite.DB.Query(context.Background(), expanded)
	if err != nil {
		return err
	}

	// response assertions work on the result too
	result, err := json.Marshal(sq.lastRows)
	if err != nil {
		return err
	}
	sq.s.Session().SetRespBytes(result)
	return nil
}

func (sq *sqlSteps) theSQLResultShouldHaveRows(count int) error {
	if len(sq.lastRows) != count {
		return fmt.Errorf("expected %d rows, got %d: %v", count, len(sq.lastRows), sq.lastRows)
	}
	return nil
}

func (sq *sqlSteps) theSQLResultAtRowColumnShouldBe(row int, column, expected string) error {
	if row >= len(sq.lastRows) {
		return fmt.Errorf("row %d out of range, result has %d rows", row, len(sq.lastRows))
	}
	value, ok := sq.lastRows[row][column]
	if !ok {
		return fmt.Errorf("column %q not in result row %v", column, sq.lastRows[row])
	}
	expanded, err := sq.s.Expand(expected)
	if err != nil {
		return err
	}
	if actual := fmt.Sprintf("%v", value); actual != expanded {
		return fmt.Errorf("row %d column %q: expected %q, got %q", row, column, expanded, actual)
	}
	return nil
}

func (sq *sqlSteps) theStoredRowIsTamperedWith(kind, variable string) error {
	if sq.s.Suite.DB == nil {
		return fmt.Errorf("no TestDB configured")
	}
	id, err := sq.s.ResolveString(variable)
	if err != nil {
		return err
	}
	table := "messages"
	if kind == "content record" {
		table = "content_records"
	}
	return sq.s.Suite.DB.TamperEnvelope(context.Background(), table, id)
}
