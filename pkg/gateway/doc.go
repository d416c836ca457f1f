/*
Package gateway abstracts the external batch scheduler behind a small
capability interface: submit a rendered job, query a job's status, cancel
a job. The reconciliation core only ever sees this interface, which keeps
it testable against a fake gateway driving arbitrary status sequences.

Errors split into two kinds:

  - TransientError: the scheduler could not be reached or did not answer
    in time. Retried with backoff; never fatal to a tick.
  - RejectedError: the scheduler refused the submission outright. The
    instance is failed immediately rather than retried forever.

SlurmGateway is the production implementation, shelling out to the Slurm
CLI tools (sbatch, squeue, sacct, scancel). Every invocation runs under
the caller's context, so a wedged scheduler command surfaces as a
transient failure instead of blocking the reconciliation loop.
*/
package gateway
