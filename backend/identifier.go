package backend

import (
	"fmt"
	"regexp"

	"github.com/getpup/shardmover"
)

var (
	identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
	columnTypeRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_ ]*(\([0-9]+(,[0-9]+)?\))?( [a-zA-Z ]+)?$`)
)

// ValidateIdentifier ensures an identifier contains only characters that are safe to quote into SQL.
func ValidateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// ValidateTableSpec checks names, column types and the primary key of spec.
func ValidateTableSpec(spec shardmover.TableSpec) error {
	if err := ValidateIdentifier(spec.Name, "table name"); err != nil {
		return err
	}
	if spec.Name == shardmover.LastUpdatedKey {
		return fmt.Errorf("table name %s is reserved by the routing document", spec.Name)
	}
	if len(spec.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", spec.Name)
	}

	seen := make(map[string]bool, len(spec.Columns))
	for _, c := range spec.Columns {
		if err := ValidateIdentifier(c.Name, "column name"); err != nil {
			return err
		}
		if !columnTypeRegex.MatchString(c.Type) {
			return fmt.Errorf("column %s.%s has an unsupported type %q", spec.Name, c.Name, c.Type)
		}
		if seen[c.Name] {
			return fmt.Errorf("column %s.%s is declared twice", spec.Name, c.Name)
		}
		seen[c.Name] = true
	}

	if len(spec.PrimaryKey) == 0 {
		return fmt.Errorf("table %s has no primary key", spec.Name)
	}
	for _, k := range spec.PrimaryKey {
		if !seen[k] {
			return fmt.Errorf("primary key column %s is not a column of %s", k, spec.Name)
		}
	}

	return nil
}
