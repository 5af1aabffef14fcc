// Package contextstore persists debate artifacts.
//
// Every backend stores JSON documents under the same key layout:
//
//	<task id>/task.json
//	<task id>/round_<n>/<backend>.json
//	<task id>/round_<n>/comparison.json
//	<task id>/round_<n>/review_<reviewer>_<peer>.json
//	<task id>/round_<n>/debate_<backend>.json
//	<task id>/final.json
//
// FileStore writes them to a local directory, ObjectStore to a MinIO
// bucket, and SQLStore to a debate_artifacts table in MySQL or Postgres.
// Artifacts adapts any of them to the debate package's store interfaces.
package contextstore
