/*
Package edm defines the resolved entity data model consumed by the routing
conventions and the serializer.

A model is declared in YAML:

	namespace: Demo

	entity_types:
	  Customer:
	    key: [ID]
	    properties:
	      ID:   { type: Edm.Int32 }
	      Name: { type: Edm.String, nullable: true }
	    navigation:
	      Orders: { target: Order, collection: true }
	  Order:
	    key: [CustomerID, Number]
	    properties:
	      CustomerID: { type: Edm.Int32 }
	      Number:     { type: Edm.Int32 }
	      Placed:     { type: Edm.DateTimeOffset }

	entity_sets:
	  Customers: Customer
	  Orders:    Order

	singletons:
	  Me: Customer

	operations:
	  Rate:
	    kind: action
	    bound_to: Customer
	    parameters:
	      - { name: stars, type: Edm.Int32 }
	  TopRated:
	    kind: function
	    bound_to: Customer
	    collection: true
	    parameters:
	      - { name: count, type: Edm.Int32 }

Key properties keep the order given in key, which is the order composite
key segments are rendered in. When entity_sets is omitted every entity type
gets a set named after its plural ("Customer" → "Customers").

# Parsing

	model, err := edm.ParseFile("model.yaml")

Definitions are checked against an embedded JSON Schema, then resolved and
validated semantically. A resolved *Model is immutable and may be shared by
any number of goroutines.
*/
package edm
