/*
Package schema resolves a configuration struct into a compiled field schema.

A configuration struct is an ordinary Go struct whose exported fields are
exposed over HTTP. Behaviour is declared with `choices` struct tags. Field
annotations sit on the field itself; struct annotations sit on a blank marker
field:

	type Config struct {
		_ struct{} `choices:"path=settings,message='Current settings:',rw_lock"`

		Debug   bool
		Port    uint16        `choices:"validator=CheckPort,min=1024"`
		LogFile string        `choices:"on_set=LogFileChanged"`
		Timeout time.Duration `choices:"hide_put"`
		Secret  string        `choices:"skip"`
	}

# Struct Annotations

  - path=<segment>:     root path of the listing resource (default "config")
  - message=<text>:     banner of the text listing; empty suppresses it
  - text, json, yaml:   serialization backend (default text)
  - lock=<kind>:        none, exclusive or rw (shorthands: mutex, rw_lock)

# Field Annotations

  - skip:               the field does not exist for listing or routing
  - hide_get, hide_put: suppress the read or write resource only
  - name=<segment>:     route segment (default: snake_case of the Go name)
  - validator=<Method>: func (c *Config) Method(v T) error
  - on_set=<Method>:    func (c *Config) Method(v T)
  - min, max:           numeric bounds
  - min_len, max_len:   length bounds for strings, slices and maps
  - pattern=<regexp>:   strings must match
  - not_empty:          strings must not be blank
  - one_of=a|b|c:       value must render as one of the options

Values containing commas are wrapped in single quotes.

# Resolution

Resolve is a pure function of the struct type. Every problem found is
reported, each pinpointing the offending field and annotation:

	compiled, err := schema.Resolve(reflect.TypeOf(Config{}))
	var list schema.ErrorList
	if errors.As(err, &list) {
		for _, e := range list { ... }
	}

Errors match the sentinel kinds (ErrPlacement, ErrUnknownAttribute,
ErrEmptyValue, ErrConflictingAttributes, ...) through errors.Is.
*/
package schema
