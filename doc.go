// Package choices exposes the fields of a configuration struct as HTTP
// resources.
//
// Annotations live in struct tags under the "choices" key. Struct-level
// annotations go on a blank marker field:
//
//	type Config struct {
//		_       struct{} `choices:"path=settings,json,rw_lock"`
//		Port    uint16   `choices:"min=1024,validator=CheckPort"`
//		Debug   bool     `choices:"on_set=DebugChanged"`
//		Secret  string   `choices:"hide_get"`
//		Scratch []byte   `choices:"skip"`
//	}
//
//	c, err := choices.New(&cfg)
//	http.ListenAndServe(":8080", c.Handler())
//
// GET /settings lists the fields with their rendered types, GET
// /settings/port returns the value and PUT /settings/port replaces it after
// running validators and on_set hooks. Programmatic writes go through the
// same pipeline via Set, SetText or a typed handle from Lookup; Update is
// the unvalidated escape hatch.
package choices
