// Package batch splits work into fixed-size chunks and runs a callback per
// chunk, sequentially or with bounded concurrency. The EPSS client uses it to
// keep the cve parameter of each request within the API's limits.
package batch
