// Package domain contains the models shared by stores of the experiment tracker.
//
// `domain/ENTITY` directories (workspace, job, run and node) expose interfaces to handle entities
// in `ENTITY/db`, and their PostgreSQL implementations in `ENTITY/db/postgres`.
//
// `domain/xtstore` is the root object. Entrypoints of applications should build it and use
// entity stores from there.
//
// # Entities
//
// - `workspace`: namespace of all other entities. It holds counters for jobs and run endings.
//
// - `job`: a bundle of runs submitted together. It has stats (progress counters), hparams and tags.
//
// - `run`: an execution of a script. It has stats, hparams, metrics and tags.
//
// - `node`: a compute node of a job, running some runs. It has stats (timing per phase) and tags.
//
// hparams, metrics and tags are "bags": tables without fixed columns.
// A column is added when a key is written first, and its type is determined by the value then.
//
// Records are identified by `_id`, which is "WORKSPACE/NAME" (nodes: "WORKSPACE/JOB/INDEX").
// A record and its stats or bags share the same `_id`.
package domain
