// Package core provides the data-quality engine for the warehouse.
//
// It is independent of any transport: the HTTP server in internal/web and
// the dqrun CLI both drive a [Service].
//
// # Rules
//
// A [ValidationRule] names a table, an optional column, a check type and an
// expected scalar. Rules of type "sql" carry a predicate template that
// refers to its target through placeholders:
//
//	SELECT count(*) FROM {{relation}} WHERE {{column}} IS NULL
//
// Placeholders are filled with quoted identifiers after the target has been
// resolved against pg_catalog, so a rule can never address an object that
// does not exist. Rules are added with [Service.AddRule] or
// [Service.SeedRules] and retired with [Service.DeactivateRule]; they are
// never edited in place.
//
// # Evaluation
//
// [Service.RunAllActiveRules] evaluates every active rule under one run id
// with bounded parallelism. Each rule runs in its own READ ONLY transaction
// with statement_timeout set, and produces exactly one
// [QualityMetricRecord]: PASS when the actual scalar equals the expected
// one, otherwise FAIL or WARN by severity. Query errors and timeouts are
// recorded as FAIL with details.error_class set; they never abort the batch.
//
// # Profiling and history
//
// [Service.TableStats], [Service.CheckDuplicates] and
// [Service.ProfileDateColumn] are read-only primitives. [Service.RecordProfile]
// stores their output as metrics. Load attempts and metric outcomes are
// appended to load_history and quality_metrics and never modified.
//
// # Maintenance
//
// [Service.RefreshAllViews] and [Service.ReanalyzeSchema] walk a schema one
// object per transaction. Concurrent runs of the same operation on the same
// schema are refused in-process with [ErrMaintenanceBusy] and serialised
// across processes with an advisory lock.
//
// # Errors
//
// Failures are typed ([ValidationError], [SchemaError], [ExecutionError],
// [TimeoutError], [BatchError]) and match the package sentinels with
// errors.Is. [MapError] turns any of them into a coded [UserMessage].
package core
