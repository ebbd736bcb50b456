package bdd

import (
	"context"
	"fmt"
	"strings"

	"github.com/chirino/carevault/internal/testutil/cucumber"
	"gorm.io/gorm"
)

// GormTestDB implements cucumber.TestDB on the same gorm connection settings
// the server uses, so it works against both SQLite and PostgreSQL.
type GormTestDB struct {
	DB *gorm.DB
}

var _ cucumber.TestDB = (*GormTestDB)(nil)

// child tables first
var clearOrder = []string{"messages", "participants", "conversations", "content_records", "users"}

func (g *GormTestDB) ClearAll(ctx context.Context) error {
	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range clearOrder {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("cleanup: failed to delete from %s: %w", table, err)
			}
		}
		return nil
	})
}

func (g *GormTestDB) Query(ctx context.Context, query string) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	if err := g.DB.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("SQL query failed: %w", err)
	}
	for _, row := range rows {
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
	}
	return rows, nil
}

// TamperEnvelope flips the first hex digit of the stored authentication tag.
func (g *GormTestDB) TamperEnvelope(ctx context.Context, table, id string) error {
	db := g.DB.WithContext(ctx)
	var body string
	if err := db.Table(table).Select("body").Where("id = ?", id).Row().Scan(&body); err != nil {
		return fmt.Errorf("read envelope from %s %s: %w", table, id, err)
	}
	parts := strings.Split(body, ":")
	if len(parts) != 3 || parts[1] == "" {
		return fmt.Errorf("row %s in %s does not hold an envelope", id, table)
	}
	flipped := "0"
	if parts[1][0] == '0' {
		flipped = "1"
	}
	parts[1] = flipped + parts[1][1:]
	res := db.Table(table).Where("id = ?", id).Update("body", strings.Join(parts, ":"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("expected to tamper 1 row in %s, updated %d", table, res.RowsAffected)
	}
	return nil
}
