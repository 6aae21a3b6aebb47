// Package montecarlo implements probabilistic load flow by Monte Carlo
// sampling of network loads.
//
// A run captures the base load of every load element, then for each sample
// draws one normally distributed scale factor k, scales every load by k
// (active and reactive power share the same k), solves the load flow and
// reads back the bus voltages. Non-converged solves are retried with a
// fresh draw up to a fixed number of attempts; a sample that never converges
// is reported as Exhausted and handled by an explicit policy. The base load
// is restored when the run ends, however it ends.
//
// Usage:
//
//	d := montecarlo.NewDriver(eng, rand.New(rand.NewPCG(seed, seed)))
//	for s, err := range d.Run(ctx, montecarlo.Options{Samples: 2500, StdDev: 0.1, MaxAttempts: 10}) {
//	    if err != nil {
//	        return err
//	    }
//	    w.Write(s)
//	}
//
// Runs mutate the shared engine state, so samples are evaluated strictly in
// sequence and a Driver refuses to run reentrantly.
package montecarlo
