package archive

const metaInfPrefix = "META-INF/"

func init() {
	MustRegister(Policy{
		Key:         "assets",
		Description: "all members except class files and META-INF, paths kept",
		Filter: Filter{
			ExcludePrefixes: []string{metaInfPrefix},
			ExcludeGlobs:    []string{"**.class"},
			KeepPrefix:      true,
		},
	})
	MustRegister(Policy{
		Key:         "natives",
		Description: "all members except META-INF, flattened to file names",
		Filter: Filter{
			ExcludePrefixes: []string{metaInfPrefix},
			Flatten:         true,
		},
	})
	MustRegister(Policy{
		Key:         "all",
		Description: "every file member, paths kept",
		Filter:      Filter{KeepPrefix: true},
	})
}
