// Package exam defines the domain types shared by every grading component.
//
// This package contains type definitions, boundary validation and anonymous
// identifier generation only. Pipeline packages import exam; exam imports
// nothing internal.
//
// Key constraints:
//   - An Exam never carries a student name or any other identifying field.
//     Input decoding rejects unknown fields so identity cannot leak in.
//   - Page 0 is the cover sheet and is never part of an Input.
//   - A Payload is written once per successful grading pass and replaced
//     atomically; partially built payloads never leave the grader.
//   - All JSON tags use snake_case.
package exam
