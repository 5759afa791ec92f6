// Package models defines the core domain records for splitbill.
//
// # Records
//
//   - User: a registered account identified by a unique @handle ("reference")
//   - Contact: a directed edge between two users; a mutual relationship is
//     two edges, one in each direction
//   - ContactInvitation: a proposed contact relationship awaiting acceptance
//   - Account: a shared expense (a bill) with a fixed total split among
//     participants
//   - AccountParticipant: one user's stake in an account, carrying the owed
//     amount, payment flag and optional payment-proof URL
//
// # Design Principles
//
// 1. **Storage-shaped**: field names and JSON tags match the hosted backend's
// column names, so records decode directly from backend rows.
// 2. **Avoid circular references**: relationships use ID strings; joined
// sub-selects surface as optional embedded structs (e.g. Contact.ContactUser).
// 3. **Nullable columns are pointers**: optional profile and account fields
// round-trip NULL faithfully.
//
// Account status is derived, never stored: see DeriveAccountStatus.
package models
