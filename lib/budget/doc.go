/*
Package budget tracks the memory used by a cache against its configured
maximum.

A Budget keeps the usage of resident tree nodes and of administrative
structures (utilization summaries, log buffers) in atomic counters, which
are updated on every attach and detach. The maximum and the derived
critical threshold only change on reconfiguration, which is serialized by a
mutex.

The evictor asks IsRunnable how many bytes it has to free. The answer is
the overage plus the configured eviction margin, capped so that one run
never tries to free more than half of the maximum.

Shared caches combine several environments under one Shared budget. Each
environment gets a tenant Budget that forwards every usage change to the
shared total, and Shares reports the proportional weights the evictor uses
to spread its work across tenants.
*/
package budget
