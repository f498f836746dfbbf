// Package github fetches the changed files of a pull request from the GitHub
// REST API and classifies upstream failures into not-found, unauthorized and
// unavailable errors.
package github
