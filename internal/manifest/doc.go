// Package manifest decodes the list of assets a run should fetch and turns it
// into concrete jobs for the current platform.
//
// A manifest is YAML (JSON is accepted as well, being a YAML subset):
//
//	files:
//	  - name: client
//	    url: https://example.com/client.jar
//	    digest: 3f786850e387550fdab836ed7e6dc881de23001b
//	    size: 1048576
//	    path: versions/client.jar
//	    extract:
//	      - dest: assets
//	        policy: assets
//	natives:
//	  - name: lwjgl
//	    natives: {linux: natives-linux, windows: "natives-windows-${arch}"}
//	    classifiers:
//	      natives-linux: {url: ..., digest: ..., size: ...}
//	    path: libraries/lwjgl-${classifier}.jar
//	    extract:
//	      - dest: natives
//	        policy: natives
//
// An empty path stores the file content-addressed under
// objects/<first two digest characters>/<digest>. Paths and extraction
// destinations are relative to the output root and may not escape it.
package manifest
