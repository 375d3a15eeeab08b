/*
Package graph models the CLI modes of a device type as a directed graph.

States are declared once, in order; paths connect them with the command (and
optional dialog) that performs the move. The graph answers three questions for
the transition executor: is there a direct path, what is the shortest hop-wise
route, and which state does a chunk of output belong to.
*/
package graph
