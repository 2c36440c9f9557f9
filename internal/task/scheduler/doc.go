// Package scheduler keeps one daily trigger per active schedule.
//
// Jobs are addressed by the composite key (owner, channel, time of day), so
// two schedules that share all three collapse into one job and the later
// registration wins. Each trigger only hands a delivery task to the worker
// pool; rendering and sending happen there, and their failures are logged
// and dropped without touching the trigger.
package scheduler
