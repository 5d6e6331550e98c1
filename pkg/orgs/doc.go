// Package orgs implements multi-tenant organizations: the organization
// records themselves, role-carrying memberships, and the email invitation
// lifecycle through which users join.
//
// Authorization is enforced here, not in handlers. Every operation that acts
// on an organization takes an Actor and checks the actor's membership role
// against the required permission before touching data. Platform admins pass
// every check.
//
// Two rules keep tenancy coherent under concurrency:
//
//   - An organization always has at least one owner. Demoting the only owner
//     is rejected; removing the only owner deletes the organization with all
//     memberships and invitations in one transaction.
//
//   - Invitations move one way: pending to accepted, expired, or canceled.
//     Transitions take a row lock so a token can only be consumed once.
//
// Expiry is lazy. Reads treat a pending invitation past its deadline as
// expired; a background sweep makes the status durable.
package orgs
