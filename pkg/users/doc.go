// Package users holds the account model, its repository and the account
// workflows: sign-up with an e-mailed confirmation secret, confirmation,
// password authentication and profile updates.
//
// Passwords are stored as bcrypt hashes. A new account is unconfirmed
// until its secret is presented; confirmation grants the "User" role when
// that role has been seeded.
package users
