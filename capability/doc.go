/*
Package capability answers "which backend can serve this request".

A Registry holds Providers per capability. Each list is ordered by priority
descending, ties broken by registration order, and is replaced wholesale on
every write so that concurrent readers only ever see a sorted snapshot.

SelectBest filters the list through each provider's CanHandle predicate and
hands the survivors to the active Strategy:

  - DefaultStrategy: preferred framework, compatible framework, first candidate
  - PatternStrategy: model-id substring table, then DefaultStrategy
  - ExplicitFrameworkStrategy: one named framework, then first candidate

ModuleRegistry is a separate catalog of backend module metadata.

Registries are plain values. Create one per runtime (or per test) and pass it
to the consumers that need it.
*/
package capability
