package taint

// datalogSchema declares the fixed Mangle program for taint
// propagation:
//
//	Tainted(v, t)            ⟸ Source(v, t)
//	Tainted(v, t)            ⟸ Tainted(u, t) ∧ DF(u, v) ∧ ¬Sanitizes(v, t)
//	Flow(v0, v, t)           ⟸ Source(v0, t) ∧ Tainted(v, t) ∧ Sink(v, t)
//
// source/2, sink/2, df/2, sanitizes/2 are EDB, populated per run from the
// DFG and TaintPolicy (see edb.go). tainted/2 and flow/3 are IDB, derived
// by mangle's own semi-naive fixed-point evaluator.
const datalogSchema = `
Decl source(Var, Tag)
  descr [mode("-", "-")].

Decl sink(Var, Tag)
  descr [mode("-", "-")].

Decl sanitizes(Var, Tag)
  descr [mode("-", "-")].

Decl df(From, To)
  descr [mode("-", "-")].

Decl tainted(Var, Tag)
  descr [mode("-", "-")].

Decl flow(Source, Sink, Tag)
  descr [mode("-", "-", "-")].

tainted(V, T) :- source(V, T).
tainted(V, T) :- tainted(U, T), df(U, V), !sanitizes(V, T).

flow(V0, V, T) :- source(V0, T), tainted(V, T), sink(V, T).
`

// permissiveSchema drops the `!sanitizes` cut from tainted/2's recursive
// clause. Running it alongside the strict schema (above) is how
// "report_sanitized" flows are discovered: any (source, sink, tag) pair
// the permissive program derives but the strict program does not is a
// flow a sanitizer blocked. A sanitizer blocks further propagation but
// never retroactively clears earlier intermediates, so the blocked flow
// is a fact about the graph, not an error.
const permissiveSchema = `
Decl source(Var, Tag)
  descr [mode("-", "-")].

Decl sink(Var, Tag)
  descr [mode("-", "-")].

Decl sanitizes(Var, Tag)
  descr [mode("-", "-")].

Decl df(From, To)
  descr [mode("-", "-")].

Decl tainted(Var, Tag)
  descr [mode("-", "-")].

Decl flow(Source, Sink, Tag)
  descr [mode("-", "-", "-")].

tainted(V, T) :- source(V, T).
tainted(V, T) :- tainted(U, T), df(U, V).

flow(V0, V, T) :- source(V0, T), tainted(V, T), sink(V, T).
`
