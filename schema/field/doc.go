// Package field defines the value types of entity properties.
//
// A property type decides how a Go value is validated before it is written
// and how the schema mapping converts it to and from a column value:
//
//	field.TypeString.Check("Weather station") // nil
//	field.TypeInt64.Check("42")                // error
//
// JSON and geometry values (GeoJSON) are structured types; they are stored
// as JSON documents by the SQL mapping.
package field
