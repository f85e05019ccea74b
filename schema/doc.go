// Package schema provides the type registry of the entity model.
//
// An EntityType is described by its name, its entity set name (plural), an
// ordered primary key and a set of properties. Entity properties carry values;
// navigation properties link to other entity types:
//
//	thing := schema.NewEntityType("Thing").Add(
//		schema.Prop("id", field.TypeInt64).Key(),
//		schema.Prop("name", field.TypeString).Required(),
//		schema.Prop("properties", field.TypeJSON),
//		schema.Nav("Datastreams", "Datastream").ToMany().Inverse("Thing"),
//	)
//
// Types are registered in a Registry. Registry.Init resolves navigation
// targets and inverses and freezes the registry; it is read-only afterwards
// and safe for concurrent use.
package schema
