// Package timewindow maps cron expressions and partition definitions onto
// concrete ticks and partition windows.
//
// All functions are pure: they take "now" explicitly and never read the wall
// clock. Cron expressions use the standard five-field syntax plus the
// @yearly/@monthly/@weekly/@daily/@hourly descriptors, evaluated in an IANA
// timezone (UTC when empty). A tick that falls exactly on "now" counts as
// completed.
package timewindow
