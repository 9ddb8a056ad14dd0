// Package validation validates request structs with go-playground/validator
// and collects hand-written field checks, reporting both as validation
// AppErrors whose details list every failing field.
package validation
