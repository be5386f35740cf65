/*
Package cleaner keeps the log utilization summary of an environment.

The summary counts, per log file, how many bytes were written and how many
of them became obsolete. Obsolete space found while a latch is held is
first collected in a LocalTracker and flushed into the Profile in one call
once all latches are released.

The Profile keeps its per-file summaries in memory and charges them to the
cache budget. When the cache is over budget the evictor asks the profile to
drop summaries of files that are fully obsolete, which is the cheapest
memory the cache can give back.
*/
package cleaner
