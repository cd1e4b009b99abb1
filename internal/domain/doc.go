// Package domain defines the core business types for MailSpace.
//
// Types in this package are pure value objects. They are the shared
// language between handlers, the dispatch engine, and the stores.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure helper methods and enums belong here
package domain
