// Package store provides SQLite-backed durable storage for rubrics, exams
// and grades.
//
// Tables:
//   - rubrics: append-only rubric versions; an edit adds a new seq
//   - exams: one row per anonymous identifier with state and grade payload
//   - pages: answer page images (page 0 is never stored)
//
// # Invariants
//
// Rubric immutability: rows in rubrics are never updated. An exam pins the
// (version, seq) it was added under, so a graded exam always refers to the
// rubric it was graded against.
//
// Single-writer per exam: Claim is an atomic conditional UPDATE, so exactly
// one worker owns an exam's in_progress state, and SaveGrade/MarkFailed only
// apply to the run that claimed it.
//
// Atomic grades: the payload and the graded state are written in one
// UPDATE; readers never see a partial grade.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads while workers commit grades
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
