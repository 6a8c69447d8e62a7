/*Package telemetry provides the REST interface for box sensor reports

A box periodically reports one environmental sample (temperature and humidity)
together with the open/closed state of its compartments. Each report is
decomposed into one reading row and zero or more compartment status rows,
all append-only with store-assigned timestamps.

The API provides the following REST routes:

	POST /api/sensor-data
	GET  /api/sensor-data/latest/{box_id}
	GET  /api/sensor-data/history/{box_id}

The latest route returns the most recent reading for the box plus up to four
most recent compartment status rows, newest first. The four is a query-size
cap matching the maximum compartment count of a box, it is not a guarantee
that every compartment is represented. The history route returns all readings
of the trailing 24 hours, newest first; the window is computed against the
database clock, not the request arrival time.

Reports are validated against the JSON schema embedded under schemas/ before
anything is written. By default the reading and its compartment rows are
inserted best-effort on one pooled connection: a failing insert aborts the
remainder of the batch but keeps the rows written so far. Construct the store
with transactional ingestion to wrap the batch in a single transaction.
*/
package telemetry
