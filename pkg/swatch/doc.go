// Package swatch scores product listings against a fixed attribute taxonomy
// by fusing image labels, the listing description and its title.
//
// Quick start:
//
//	s, err := swatch.New(swatch.WithModelDir("models/"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	labels := []swatch.Label{{Description: "Red", Score: 0.93}}
//	res, _ := s.Classify(ctx, labels, "warm winter coat", "Red wool coat")
//	fmt.Println(res["Color"].Chosen) // Red
//
// Every category of the taxonomy gets a result, or Classify returns an
// error. A Swatch is safe for concurrent use. Create once and reuse it.
package swatch
