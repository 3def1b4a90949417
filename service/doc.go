// Package service is the only write entry point into the engine.
//
// Exchange owns the per-pool books, the balance ledger and the command
// journal. Every command runs to completion under one lock inside an undo
// transaction: it either commits and is appended to the journal, or rolls
// back with no observable effect.
package service
