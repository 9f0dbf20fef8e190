/*
Package primitive bridges decoded protocol primitive values and Go host types.

Values decoded from the wire carry one of the EDM primitive kinds and use a
natural Go representation for it:

  - Edm.Boolean:        bool
  - Edm.Byte:           uint8
  - Edm.SByte:          int8
  - Edm.Int16/32/64:    int16, int32, int64
  - Edm.Single:         float32
  - Edm.Double:         float64
  - Edm.Decimal:        float64
  - Edm.String:         string
  - Edm.Guid:           uuid.UUID
  - Edm.Binary:         []byte
  - Edm.DateTimeOffset: time.Time
  - Edm.Date:           Date
  - Edm.TimeOfDay:      TimeOfDay
  - Edm.Duration:       time.Duration

Host types the protocol has no primitive for are reached through Convert:

	v, err := primitive.Convert("x", reflect.TypeOf(primitive.Char(0)), nil)
	v, err := primitive.Convert(int64(7), reflect.TypeOf(uint32(0)), nil)
	v, err := primitive.Convert(ts, reflect.TypeOf(primitive.LocalDateTime{}), loc)

A pointer target type is the optional form of its element type. Conversions
that cannot be represented fail with a *ValidationError; they never truncate.

ToWire performs the reverse mapping when a response is written.

All functions in this package are pure and safe for concurrent use.
*/
package primitive
