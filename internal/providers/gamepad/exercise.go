package gamepad

import (
	"time"

	"github.com/GriffinCanCode/lobbyshell/internal/scheduler"
)

type stickPosition struct{ x, y float64 }

// circle is the stick pattern of the exercise, repeated exerciseCycles times.
var circle = []stickPosition{
	{0.5, 0},
	{0, 0.5},
	{-0.5, 0},
	{0, -0.5},
	{0, 0},
}

const (
	exerciseCycles = 3
	exerciseHold   = 200 * time.Millisecond
	exerciseStep   = 500 * time.Millisecond
)

// Exercise schedules a scripted self-test on dev: A, B, X and Y presses,
// a full deflection of both sticks, then a circular stick pattern. It
// returns the total duration of the sequence. Cancelling owner aborts it.
func Exercise(dev *Device, sched scheduler.Scheduler, owner string) time.Duration {
	for i, at := range []time.Duration{1000, 1500, 2000, 2500} {
		button := i
		sched.AfterFunc(owner, at*time.Millisecond, func() {
			press(dev, sched, owner, button, exerciseHold)
		})
	}

	sched.AfterFunc(owner, 3*time.Second, func() {
		dev.Post(sched, owner, Update{Axes: []float64{1, 0, 0, 1}})
	})

	steps := len(circle) * exerciseCycles
	sched.AfterFunc(owner, 4*time.Second, func() {
		step := 0
		var t scheduler.Timer
		t = sched.Every(owner, exerciseStep, func() {
			p := circle[step%len(circle)]
			dev.Post(sched, owner, Update{Axes: []float64{p.x, p.y, 0, 0}})
			step++
			if step >= steps {
				t.Stop()
			}
		})
	})

	return 4*time.Second + time.Duration(steps)*exerciseStep
}
