/*
Package datalevin implements a typed key-value access layer on top of an
ordered key-value engine (Bolt, Pebble, or a transient in-memory store).

We implement:

1. Named sub-databases (dbis), flat ordered keyspaces created on demand.

2. A typed codec that maps Go values (strings, integers, floats, instants,
booleans, byte slices, and arbitrary msgpack-serializable data) to byte
strings whose lexicographic order matches the natural order of the values.

3. Declarative key ranges (closed, open, half-open, unbounded, and their
reverse twins) translated to raw cursor scans.

4. A pool of reusable read transactions, so point reads and range scans do
not pay the cost of opening a fresh transaction each time.

5. Batched writes with automatic recovery from engine map exhaustion: the
map is grown and the whole batch retried.

# Technical Details

**Sub-databases.**
Bolt supports named buckets natively. Pebble is a flat keyspace, so dbis
are simulated with key prefixes. The in-memory engine keeps one sorted
slice per dbi.

**Key encoding.**
Numeric keys are stored big-endian with the sign bit flipped, floats go
through an order-preserving bit transform, and instants are stored as
sign-flipped epoch milliseconds. This makes byte order coincide with value
order, so range scans over typed keys behave like range scans over the
values themselves.

**Values.**
Values use the same codec as keys. A dbi can opt into Snappy compression,
in which case values are compressed after encoding and decompressed before
decoding; keys are never compressed so ordering is preserved.

**Read transaction reuse.**
A fixed-capacity pool hands out reader slots. Releasing a slot resets the
underlying transaction; acquiring renews it, which is much cheaper than a
fresh transaction on engines that support it.
*/
package datalevin
