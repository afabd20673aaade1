// Package schedule turns the cycle_interval setting into concrete wait times.
//
// A cycle interval may be a number of seconds ("1500"), a Go duration
// ("25m"), an HH:MM interval ("00:25") or a cron expression ("*/30 * * * *",
// "@hourly"). Intervals are measured from the end of the previous cycle;
// cron schedules wait for the next matching wall-clock time.
package schedule
