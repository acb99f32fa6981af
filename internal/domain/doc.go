// Package domain defines the core entities of the generation service:
// tasks, their parameter variants, lifecycle events, and principals.
// The parameter and event unions are closed; wire encoding carries a
// task_type/event_type tag and decoding rejects unknown tags.
package domain
